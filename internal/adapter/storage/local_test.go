package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/custodian/internal/domain"
)

func TestLocalStorage(t *testing.T) {
	ctx := context.Background()

	Convey("Given a LocalStorage", t, func() {
		tempDir := t.TempDir()

		Convey("NewLocal", func() {
			Convey("When creating with an existing path", func() {
				storage, err := NewLocal(tempDir)
				So(err, ShouldBeNil)
				So(storage, ShouldNotBeNil)
				So(storage.basePath, ShouldEqual, tempDir)
			})

			Convey("When creating with a non-existent path", func() {
				newPath := filepath.Join(tempDir, "new", "nested", "dir")
				storage, err := NewLocal(newPath)
				So(err, ShouldBeNil)
				So(storage, ShouldNotBeNil)

				info, err := os.Stat(newPath)
				So(err, ShouldBeNil)
				So(info.IsDir(), ShouldBeTrue)
			})
		})

		Convey("Upload", func() {
			storage, _ := NewLocal(tempDir)

			Convey("When uploading from a reader", func() {
				dest, err := storage.Upload(ctx, domain.UploadInput{
					Filename: "uploaded.sql",
					Body:     strings.NewReader("dump content"),
					Size:     12,
				})
				So(err, ShouldBeNil)
				So(dest, ShouldEqual, filepath.Join(tempDir, "uploaded.sql"))

				content, err := os.ReadFile(dest)
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, "dump content")
			})
		})

		Convey("Download", func() {
			storage, _ := NewLocal(tempDir)
			So(os.WriteFile(filepath.Join(tempDir, "remote.sql"), []byte("remote content"), 0o644), ShouldBeNil)

			Convey("When downloading an existing file", func() {
				localPath := filepath.Join(t.TempDir(), "local.sql")
				var lastDone, lastTotal int64
				err := storage.Download(ctx, "remote.sql", localPath, func(done, total int64) {
					lastDone, lastTotal = done, total
				})
				So(err, ShouldBeNil)

				content, err := os.ReadFile(localPath)
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, "remote content")
				So(lastDone, ShouldEqual, int64(len("remote content")))
				So(lastTotal, ShouldEqual, lastDone)
			})

			Convey("When the remote file does not exist", func() {
				err := storage.Download(ctx, "nope.sql", filepath.Join(t.TempDir(), "x"), nil)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to open source")
			})

			Convey("A nil progress callback is fine", func() {
				localPath := filepath.Join(t.TempDir(), "local.sql")
				So(storage.Download(ctx, "remote.sql", localPath, nil), ShouldBeNil)
			})
		})

		Convey("ListFiles", func() {
			storage, _ := NewLocal(tempDir)
			So(os.WriteFile(filepath.Join(tempDir, "orders_1.sql"), []byte("a"), 0o644), ShouldBeNil)
			So(os.WriteFile(filepath.Join(tempDir, "orders_2.sql"), []byte("bb"), 0o644), ShouldBeNil)
			So(os.WriteFile(filepath.Join(tempDir, "users_1.sql"), []byte("c"), 0o644), ShouldBeNil)
			So(os.Mkdir(filepath.Join(tempDir, "subdir"), 0o755), ShouldBeNil)

			Convey("When listing with a prefix", func() {
				files, err := storage.ListFiles(ctx, "orders_")
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 2)

				byName := map[string]domain.FileInfo{}
				for _, f := range files {
					byName[f.Name] = f
				}
				So(byName, ShouldContainKey, "orders_1.sql")
				So(byName, ShouldContainKey, "orders_2.sql")
				So(byName["orders_2.sql"].Size, ShouldEqual, 2)
				So(byName["orders_1.sql"].LastModified, ShouldHappenWithin, time.Minute, time.Now())
			})

			Convey("When listing with an empty prefix", func() {
				files, err := storage.ListFiles(ctx, "")
				So(err, ShouldBeNil)
				So(files, ShouldHaveLength, 3)
			})
		})

		Convey("DeleteFile", func() {
			storage, _ := NewLocal(tempDir)

			Convey("When deleting an existing file", func() {
				So(os.WriteFile(filepath.Join(tempDir, "delete_me.sql"), []byte("x"), 0o644), ShouldBeNil)

				So(storage.DeleteFile(ctx, "delete_me.sql"), ShouldBeNil)
				_, err := os.Stat(filepath.Join(tempDir, "delete_me.sql"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("When deleting a non-existent file", func() {
				err := storage.DeleteFile(ctx, "nope.sql")
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "failed to delete file")
			})
		})
	})
}
