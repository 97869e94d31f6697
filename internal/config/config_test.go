package config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const validYAML = `
app:
  name: custodian
  log_level: debug

data:
  dir: /var/lib/custodian
  master_key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

storage_targets:
  - name: local-primary
    type: local
    path: /backups
  - name: s3-main
    type: s3
    region: us-east-1
    bucket: custodian-backups
    access_key: AK
    secret_key: SK
    prefix: prod/

encryption_profiles:
  - id: prof-1
    name: default
    key: "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"

jobs:
  - id: orders-daily
    name: orders
    engine: mysql
    host: db.internal
    port: 3306
    username: backup
    password: secret
    database: orders
    schedule: "0 0 3 * * *"
    enabled: true
    storage_target: s3-main
    compress: true
    encryption_profile: prof-1
    retention:
      mode: SMART
      daily: 7
      weekly: 4
      monthly: 12
      yearly: 2
  - id: users-manual
    name: users
    engine: postgresql
    host: pg.internal
    port: 5432
    username: backup
    password: secret
    database: users
    enabled: false
    storage_target: local-primary
    retention:
      mode: SIMPLE
      keep_count: 5

queue:
  max_concurrent_jobs: 2
  poll_schedule: "*/30 * * * * *"

config_backup:
  enabled: true
  destination: local-primary
  encryption_profile: prof-1
  include_secrets: true
  retention_count: 3

notifications:
  telegram:
    enabled: true
    bot_token: "123:abc"
    chat_id: "-100200300"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given a complete config file", t, func() {
		cfg, err := Load(writeConfig(t, validYAML))

		Convey("It loads and validates", func() {
			So(err, ShouldBeNil)
			So(cfg.App.Name, ShouldEqual, "custodian")
			So(cfg.App.LogLevel, ShouldEqual, "debug")
			So(cfg.Data.Dir, ShouldEqual, "/var/lib/custodian")
		})

		Convey("Jobs carry their full shape", func() {
			So(err, ShouldBeNil)
			So(cfg.Jobs, ShouldHaveLength, 2)

			orders := cfg.Jobs[0]
			So(orders.ID, ShouldEqual, "orders-daily")
			So(orders.Engine, ShouldEqual, "mysql")
			So(orders.StorageTarget, ShouldEqual, "s3-main")
			So(orders.Compress, ShouldBeTrue)
			So(orders.EncryptionProfile, ShouldEqual, "prof-1")
			So(orders.Retention.Mode, ShouldEqual, "SMART")
			So(orders.Retention.Daily, ShouldEqual, 7)
			So(orders.Retention.Yearly, ShouldEqual, 2)
		})

		Convey("EnabledJobs filters disabled jobs", func() {
			So(err, ShouldBeNil)
			enabled := cfg.EnabledJobs()
			So(enabled, ShouldHaveLength, 1)
			So(enabled[0].ID, ShouldEqual, "orders-daily")
		})

		Convey("Storage targets resolve by name", func() {
			So(err, ShouldBeNil)
			s3, ok := cfg.StorageTarget("s3-main")
			So(ok, ShouldBeTrue)
			So(s3.Bucket, ShouldEqual, "custodian-backups")

			_, ok = cfg.StorageTarget("missing")
			So(ok, ShouldBeFalse)
		})

		Convey("Keys decode to 32 bytes", func() {
			So(err, ShouldBeNil)
			master, err := cfg.MasterKey()
			So(err, ShouldBeNil)
			So(master, ShouldHaveLength, 32)

			key, err := cfg.EncryptionProfiles[0].ProfileKey()
			So(err, ShouldBeNil)
			So(key, ShouldHaveLength, 32)
		})

		Convey("Queue and config backup sections apply", func() {
			So(err, ShouldBeNil)
			So(cfg.Queue.MaxConcurrentJobs, ShouldEqual, 2)
			So(cfg.Queue.PollSchedule, ShouldEqual, "*/30 * * * * *")
			So(cfg.ConfigBackup.Enabled, ShouldBeTrue)
			So(cfg.ConfigBackup.IncludeSecrets, ShouldBeTrue)
			So(cfg.ConfigBackup.RetentionCount, ShouldEqual, 3)
			So(cfg.Notifications.Telegram.Enabled, ShouldBeTrue)
		})
	})

	Convey("Given a minimal config file", t, func() {
		minimal := `
storage_targets:
  - name: local
    type: local
    path: /backups
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: false
    storage_target: local
`
		cfg, err := Load(writeConfig(t, minimal))

		Convey("Defaults fill the gaps", func() {
			So(err, ShouldBeNil)
			So(cfg.App.Name, ShouldEqual, "custodian")
			So(cfg.App.LogLevel, ShouldEqual, "info")
			So(cfg.Queue.MaxConcurrentJobs, ShouldEqual, 1)
			So(cfg.Queue.PollSchedule, ShouldEqual, "*/15 * * * * *")
			So(cfg.ConfigBackup.RetentionCount, ShouldEqual, 5)

			master, err := cfg.MasterKey()
			So(err, ShouldBeNil)
			So(master, ShouldBeNil)
		})
	})

	Convey("Given invalid config files", t, func() {
		load := func(content string) error {
			_, err := Load(writeConfig(t, content))
			return err
		}

		Convey("A missing file is an error", func() {
			_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
			So(err, ShouldNotBeNil)
		})

		Convey("No jobs is an error", func() {
			err := load(`
storage_targets:
  - name: local
    type: local
    path: /backups
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "at least one job")
		})

		Convey("An enabled job without a schedule is an error", func() {
			err := load(`
storage_targets:
  - name: local
    type: local
    path: /backups
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: true
    storage_target: local
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "schedule is required")
		})

		Convey("A job referencing an unknown storage target is an error", func() {
			err := load(`
storage_targets:
  - name: local
    type: local
    path: /backups
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: false
    storage_target: mars
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "unknown storage_target")
		})

		Convey("A short master key is an error", func() {
			err := load(`
data:
  master_key: "abcd"
storage_targets:
  - name: local
    type: local
    path: /backups
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: false
    storage_target: local
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "32 bytes")
		})

		Convey("Encryption profiles without a master key are an error", func() {
			err := load(`
storage_targets:
  - name: local
    type: local
    path: /backups
encryption_profiles:
  - id: prof-1
    key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: false
    storage_target: local
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "master_key is required")
		})

		Convey("Secrets in the config backup require a profile", func() {
			err := load(`
storage_targets:
  - name: local
    type: local
    path: /backups
jobs:
  - id: j1
    name: orders
    engine: mysql
    host: localhost
    enabled: false
    storage_target: local
config_backup:
  enabled: true
  destination: local
  include_secrets: true
`)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "include_secrets requires")
		})
	})
}
