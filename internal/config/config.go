package config

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	App                AppConfig           `mapstructure:"app"`
	Data               DataConfig          `mapstructure:"data"`
	StorageTargets     []StorageTarget     `mapstructure:"storage_targets"`
	Jobs               []JobConfig         `mapstructure:"jobs"`
	Queue              QueueConfig         `mapstructure:"queue"`
	ConfigBackup       ConfigBackupConfig  `mapstructure:"config_backup"`
	EncryptionProfiles []EncryptionProfile `mapstructure:"encryption_profiles"`
	Notifications      NotificationConfig  `mapstructure:"notifications"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DataConfig locates the process state: the sqlite record store, the scratch
// directory for dumps in flight, and the master key that wraps data keys.
type DataConfig struct {
	Dir       string `mapstructure:"dir"`
	MasterKey string `mapstructure:"master_key"`
}

type StorageTarget struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`

	// Local
	Path string `mapstructure:"path"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`

	// Google Drive
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type JobConfig struct {
	ID       string `mapstructure:"id"`
	Name     string `mapstructure:"name"`
	Engine   string `mapstructure:"engine"`
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`

	StorageTarget     string          `mapstructure:"storage_target"`
	Compress          bool            `mapstructure:"compress"`
	EncryptionProfile string          `mapstructure:"encryption_profile"`
	Retention         RetentionConfig `mapstructure:"retention"`
}

type RetentionConfig struct {
	Mode      string `mapstructure:"mode"`
	KeepCount int    `mapstructure:"keep_count"`
	Daily     int    `mapstructure:"daily"`
	Weekly    int    `mapstructure:"weekly"`
	Monthly   int    `mapstructure:"monthly"`
	Yearly    int    `mapstructure:"yearly"`
}

type QueueConfig struct {
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	PollSchedule      string `mapstructure:"poll_schedule"`
}

type ConfigBackupConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Schedule          string `mapstructure:"schedule"`
	Destination       string `mapstructure:"destination"`
	EncryptionProfile string `mapstructure:"encryption_profile"`
	IncludeSecrets    bool   `mapstructure:"include_secrets"`
	RetentionCount    int    `mapstructure:"retention_count"`
}

// EncryptionProfile carries a plaintext data key (hex) from the config file.
// At startup the key is wrapped under the master key and only the wrapped form
// is persisted.
type EncryptionProfile struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "custodian")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("data.dir", "data")
	v.SetDefault("queue.max_concurrent_jobs", 1)
	v.SetDefault("queue.poll_schedule", "*/15 * * * * *")
	v.SetDefault("config_backup.schedule", "0 0 4 * * *")
	v.SetDefault("config_backup.retention_count", 5)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	if len(c.StorageTargets) == 0 {
		return fmt.Errorf("at least one storage target is required")
	}

	targets := map[string]bool{}
	for i, t := range c.StorageTargets {
		if t.Name == "" {
			return fmt.Errorf("storage_targets[%d]: name is required", i)
		}
		if targets[t.Name] {
			return fmt.Errorf("storage_targets[%d]: duplicate name %q", i, t.Name)
		}
		targets[t.Name] = true
		switch t.Type {
		case "local":
			if t.Path == "" {
				return fmt.Errorf("storage_targets[%d]: path is required for local storage", i)
			}
		case "s3":
			if t.Bucket == "" {
				return fmt.Errorf("storage_targets[%d]: bucket is required for s3 storage", i)
			}
		case "gdrive":
			if t.CredentialsFile == "" {
				return fmt.Errorf("storage_targets[%d]: credentials_file is required for gdrive storage", i)
			}
		default:
			return fmt.Errorf("storage_targets[%d]: unknown type %q", i, t.Type)
		}
	}

	profiles := map[string]bool{}
	for i, p := range c.EncryptionProfiles {
		if p.ID == "" {
			return fmt.Errorf("encryption_profiles[%d]: id is required", i)
		}
		if _, err := decodeKey(p.Key); err != nil {
			return fmt.Errorf("encryption_profiles[%d]: %w", i, err)
		}
		profiles[p.ID] = true
	}

	ids := map[string]bool{}
	for i, job := range c.Jobs {
		if job.ID == "" {
			return fmt.Errorf("jobs[%d]: id is required", i)
		}
		if ids[job.ID] {
			return fmt.Errorf("jobs[%d]: duplicate id %q", i, job.ID)
		}
		ids[job.ID] = true
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if job.Engine == "" {
			return fmt.Errorf("jobs[%d]: engine is required", i)
		}
		if job.Host == "" {
			return fmt.Errorf("jobs[%d]: host is required", i)
		}
		if job.Enabled && job.Schedule == "" {
			return fmt.Errorf("jobs[%d]: schedule is required when enabled", i)
		}
		if !targets[job.StorageTarget] {
			return fmt.Errorf("jobs[%d]: unknown storage_target %q", i, job.StorageTarget)
		}
		if job.EncryptionProfile != "" && !profiles[job.EncryptionProfile] {
			return fmt.Errorf("jobs[%d]: unknown encryption_profile %q", i, job.EncryptionProfile)
		}
	}

	needKey := len(c.EncryptionProfiles) > 0
	if c.Data.MasterKey == "" && needKey {
		return fmt.Errorf("data.master_key is required when encryption profiles are configured")
	}
	if c.Data.MasterKey != "" {
		if _, err := decodeKey(c.Data.MasterKey); err != nil {
			return fmt.Errorf("data.master_key: %w", err)
		}
	}

	if c.ConfigBackup.Enabled {
		if c.ConfigBackup.Destination == "" {
			return fmt.Errorf("config_backup.destination is required when enabled")
		}
		if !targets[c.ConfigBackup.Destination] {
			return fmt.Errorf("config_backup: unknown destination %q", c.ConfigBackup.Destination)
		}
		if c.ConfigBackup.EncryptionProfile != "" && !profiles[c.ConfigBackup.EncryptionProfile] {
			return fmt.Errorf("config_backup: unknown encryption_profile %q", c.ConfigBackup.EncryptionProfile)
		}
		if c.ConfigBackup.IncludeSecrets && c.ConfigBackup.EncryptionProfile == "" {
			return fmt.Errorf("config_backup: include_secrets requires an encryption_profile")
		}
	}

	return nil
}

// MasterKey decodes the configured master key. An empty configuration yields a
// nil key, which disables every encryption feature.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Data.MasterKey == "" {
		return nil, nil
	}
	return decodeKey(c.Data.MasterKey)
}

// ProfileKey decodes one encryption profile's plaintext data key.
func (p *EncryptionProfile) ProfileKey() ([]byte, error) {
	return decodeKey(p.Key)
}

func decodeKey(raw string) ([]byte, error) {
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func (c *Config) EnabledJobs() []JobConfig {
	var enabled []JobConfig
	for _, job := range c.Jobs {
		if job.Enabled {
			enabled = append(enabled, job)
		}
	}
	return enabled
}

func (c *Config) StorageTarget(name string) (StorageTarget, bool) {
	for _, t := range c.StorageTargets {
		if t.Name == name {
			return t, true
		}
	}
	return StorageTarget{}, false
}
