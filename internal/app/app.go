package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/semmidev/custodian/internal/adapter/database"
	"github.com/semmidev/custodian/internal/adapter/notifier"
	"github.com/semmidev/custodian/internal/adapter/storage"
	"github.com/semmidev/custodian/internal/config"
	"github.com/semmidev/custodian/internal/domain"
	"github.com/semmidev/custodian/internal/infrastructure/logger"
	"github.com/semmidev/custodian/internal/infrastructure/scheduler"
	"github.com/semmidev/custodian/internal/store"
	"github.com/semmidev/custodian/internal/usecase"
)

type App struct {
	config       *config.Config
	logger       *logger.Logger
	store        *store.Store
	scheduler    *scheduler.Scheduler
	runner       *usecase.Runner
	queue        *usecase.Queue
	configBackup *usecase.ConfigBackup
	lifecycle    *usecase.Lifecycle
	shutdown     *usecase.Shutdown
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	masterKey, err := cfg.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	tempDir := filepath.Join(cfg.Data.Dir, "tmp")
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.Data.Dir, "custodian.db"), masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	if err := seed(cfg, st, masterKey); err != nil {
		return nil, fmt.Errorf("failed to seed record store: %w", err)
	}

	storages, err := initializeStorageTargets(cfg, log)
	if err != nil {
		return nil, err
	}
	databases := initializeDatabases(cfg, log)
	if len(databases) == 0 {
		return nil, fmt.Errorf("no usable jobs configured")
	}

	var notify domain.Notifier
	if cfg.Notifications.Telegram.Enabled {
		tg, err := notifier.NewTelegram(cfg.Notifications.Telegram)
		if err != nil {
			log.Errorf("Failed to initialize Telegram notifier: %v", err)
		} else {
			notify = tg
			log.Infof("Telegram notifications enabled")
		}
	}

	lifecycle := usecase.NewLifecycle()
	runner := usecase.NewRunner(st, st, databases, storages, notify, masterKey, tempDir, log.Named("runner"))
	queue := usecase.NewQueue(st, st, runner, lifecycle, log.Named("queue"))
	configBackup := usecase.NewConfigBackup(st, st, storages, masterKey, tempDir, log.Named("configbackup"))

	sched := scheduler.New()
	shutdown := usecase.NewShutdown(lifecycle, st, st, sched, log.Named("shutdown"))

	return &App{
		config:       cfg,
		logger:       log,
		store:        st,
		scheduler:    sched,
		runner:       runner,
		queue:        queue,
		configBackup: configBackup,
		lifecycle:    lifecycle,
		shutdown:     shutdown,
	}, nil
}

// seed pushes the file configuration into the record store so the pipelines
// read one source of truth at runtime.
func seed(cfg *config.Config, st *store.Store, masterKey []byte) error {
	ctx := context.Background()

	for _, p := range cfg.EncryptionProfiles {
		key, err := p.ProfileKey()
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
		wrapped, err := domain.WrapKey(masterKey, key)
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.ID, err)
		}
		if err := st.UpsertProfile(ctx, &domain.EncryptionProfile{
			ID:         p.ID,
			Name:       p.Name,
			WrappedKey: wrapped,
		}); err != nil {
			return err
		}
	}

	for _, jc := range cfg.Jobs {
		if err := st.UpsertJob(ctx, &domain.Job{
			ID:                  jc.ID,
			Name:                jc.Name,
			Engine:              jc.Engine,
			Schedule:            jc.Schedule,
			StorageTarget:       jc.StorageTarget,
			Compress:            jc.Compress,
			EncryptionProfileID: jc.EncryptionProfile,
			Enabled:             jc.Enabled,
			Retention: domain.RetentionPolicy{
				Mode:      domain.RetentionMode(jc.Retention.Mode),
				KeepCount: jc.Retention.KeepCount,
				Daily:     jc.Retention.Daily,
				Weekly:    jc.Retention.Weekly,
				Monthly:   jc.Retention.Monthly,
				Yearly:    jc.Retention.Yearly,
			},
		}); err != nil {
			return err
		}
	}

	settings := map[string]string{
		store.KeyMaxConcurrentJobs:       strconv.Itoa(cfg.Queue.MaxConcurrentJobs),
		store.KeyConfigBackupEnabled:     strconv.FormatBool(cfg.ConfigBackup.Enabled),
		store.KeyConfigBackupDestination: cfg.ConfigBackup.Destination,
		store.KeyConfigBackupProfile:     cfg.ConfigBackup.EncryptionProfile,
		store.KeyConfigBackupSecrets:     strconv.FormatBool(cfg.ConfigBackup.IncludeSecrets),
		store.KeyConfigBackupRetention:   strconv.Itoa(cfg.ConfigBackup.RetentionCount),
	}
	for key, value := range settings {
		if err := st.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}

	return nil
}

func initializeStorageTargets(cfg *config.Config, log *logger.Logger) (map[string]domain.Storage, error) {
	storages := make(map[string]domain.Storage, len(cfg.StorageTargets))

	for _, targetCfg := range cfg.StorageTargets {
		var stor domain.Storage
		var err error

		switch targetCfg.Type {
		case "local":
			stor, err = storage.NewLocal(targetCfg.Path)
		case "s3":
			stor, err = storage.NewS3(targetCfg)
		case "gdrive":
			stor, err = storage.NewGDrive(targetCfg)
		default:
			return nil, fmt.Errorf("storage target %s: unknown type %q", targetCfg.Name, targetCfg.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("storage target %s: %w", targetCfg.Name, err)
		}

		storages[targetCfg.Name] = stor
		log.Infof("Storage target %s ready (%s)", targetCfg.Name, targetCfg.Type)
	}

	return storages, nil
}

func initializeDatabases(cfg *config.Config, log *logger.Logger) map[string]domain.Database {
	databases := make(map[string]domain.Database)

	for _, jc := range cfg.Jobs {
		var db domain.Database

		switch jc.Engine {
		case "mysql":
			db = database.NewMySQL(jc)
		case "postgresql":
			db = database.NewPostgreSQL(jc)
		case "mongodb":
			db = database.NewMongoDB(jc)
		default:
			log.Warnf("Unsupported engine %q for job %s, skipping", jc.Engine, jc.ID)
			continue
		}

		// A failed ping is a warning, not a rejection: the database may come
		// up before the first scheduled run.
		if err := db.Ping(context.Background()); err != nil {
			log.Warnf("Cannot reach %s yet: %v", jc.ID, err)
		} else {
			log.Infof("Connected to %s (%s)", jc.ID, jc.Engine)
		}

		databases[jc.ID] = db
	}

	return databases
}

// Run wires the schedules and blocks until an orderly shutdown has finished.
func (a *App) Run(ctx context.Context) error {
	for _, jc := range a.config.EnabledJobs() {
		jobID := jc.ID
		if err := a.scheduler.AddJob(jc.Schedule, func(ctx context.Context) error {
			a.logger.Infof("Scheduled trigger for job %s", jobID)
			if _, err := a.runner.Enqueue(ctx, jobID); err != nil {
				a.logger.Errorf("enqueue job %s: %v", jobID, err)
				return err
			}
			return a.queue.ProcessQueue(ctx)
		}); err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", jobID, err)
		}
		a.logger.Infof("Scheduled job %s: %s", jobID, jc.Schedule)
	}

	if err := a.scheduler.AddJob(a.config.Queue.PollSchedule, a.queue.ProcessQueue); err != nil {
		return fmt.Errorf("failed to schedule queue poll: %w", err)
	}

	if a.config.ConfigBackup.Enabled {
		if err := a.scheduler.AddJob(a.config.ConfigBackup.Schedule, a.configBackup.Run); err != nil {
			return fmt.Errorf("failed to schedule config backup: %w", err)
		}
		a.logger.Infof("Scheduled config backup: %s", a.config.ConfigBackup.Schedule)
	}

	a.shutdown.RegisterHandlers()
	a.scheduler.Start()
	a.logger.Infof("Scheduler started with %d job(s)", a.scheduler.JobCount())

	select {
	case <-ctx.Done():
		a.shutdown.Begin()
	case <-a.lifecycle.Done():
	}

	a.logger.Close()
	return nil
}
