package logger

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given the logger package", t, func() {
		Convey("Console-only loggers initialize", func() {
			log, err := New("info", "")
			So(err, ShouldBeNil)
			So(log, ShouldNotBeNil)
			So(func() { log.Infof("hello %s", "there") }, ShouldNotPanic)
			log.Close()
		})

		Convey("A file sink is created on demand", func() {
			logFile := filepath.Join(t.TempDir(), "logs", "custodian.log")
			log, err := New("debug", logFile)
			So(err, ShouldBeNil)

			log.Debugf("file sink check")
			_ = log.Sync()

			_, statErr := os.Stat(logFile)
			So(statErr, ShouldBeNil)
			log.Close()
		})

		Convey("An unknown level falls back to info", func() {
			log, err := New("chatty", "")
			So(err, ShouldBeNil)
			So(func() { log.Infof("still works") }, ShouldNotPanic)
			log.Close()
		})

		Convey("An uncreatable log directory is an error", func() {
			_, err := New("info", "/proc/nope/custodian.log")
			So(err, ShouldNotBeNil)
		})

		Convey("Named loggers share the core", func() {
			log, err := New("info", "")
			So(err, ShouldBeNil)
			child := log.Named("queue")
			So(child, ShouldNotBeNil)
			So(func() { child.Warnf("from child") }, ShouldNotPanic)
			log.Close()
		})
	})
}
