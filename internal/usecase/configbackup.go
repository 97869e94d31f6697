package usecase

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/custodian/internal/cipherstream"
	"github.com/semmidev/custodian/internal/domain"
)

const configArtifactPrefix = "custodian_config_"

// ConfigBackup is the parallel, simpler pipeline that snapshots the system's
// own configuration: export, compress, optionally encrypt, upload with a
// sidecar, then keep only the newest N snapshots by name.
type ConfigBackup struct {
	records   ExecutionRecords
	catalog   Catalog
	storages  map[string]domain.Storage
	masterKey []byte
	tempDir   string
	logger    Logger

	flushInterval time.Duration
}

func NewConfigBackup(
	records ExecutionRecords,
	catalog Catalog,
	storages map[string]domain.Storage,
	masterKey []byte,
	tempDir string,
	logger Logger,
) *ConfigBackup {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &ConfigBackup{
		records:       records,
		catalog:       catalog,
		storages:      storages,
		masterKey:     masterKey,
		tempDir:       tempDir,
		logger:        logger,
		flushInterval: defaultFlushInterval,
	}
}

// Run executes one configuration backup synchronously. Disabled settings or a
// missing destination make it a quiet no-op. Fail-closed rule: when secrets
// are requested but no encryption profile resolves, it aborts before a single
// byte of output exists.
func (c *ConfigBackup) Run(ctx context.Context) error {
	settings, err := c.catalog.ConfigBackupSettings(ctx)
	if err != nil {
		return domain.NewPersistenceError("read config backup settings", err)
	}
	if !settings.Enabled || settings.Destination == "" {
		c.logger.Infof("Config backup disabled or without destination, skipping")
		return nil
	}

	storage, ok := c.storages[settings.Destination]
	if !ok {
		return domain.NewValidationError(fmt.Sprintf("config backup destination %q is not a known storage target", settings.Destination), nil)
	}

	var key []byte
	var profileID string
	if settings.EncryptionProfileID != "" {
		profile, err := c.catalog.GetProfile(ctx, settings.EncryptionProfileID)
		if err == nil {
			key, err = profile.Unwrap(c.masterKey)
			if err != nil {
				return err
			}
			profileID = profile.ID
		} else if settings.IncludeSecrets {
			return domain.NewValidationError("config backup includes secrets but its encryption profile does not resolve", err)
		} else {
			c.logger.Warnf("Config backup encryption profile %s not found, writing unencrypted", settings.EncryptionProfileID)
		}
	}
	if settings.IncludeSecrets && key == nil {
		return domain.NewValidationError("config backup includes secrets but no encryption profile is configured", nil)
	}

	payload, err := c.catalog.ExportConfig(ctx, settings.IncludeSecrets)
	if err != nil {
		return domain.NewPersistenceError("export configuration", err)
	}

	exec := &domain.Execution{
		ID:        uuid.NewString(),
		Kind:      domain.KindConfigBackup,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := c.records.CreateExecution(ctx, exec); err != nil {
		return domain.NewPersistenceError("create execution record", err)
	}
	if _, err := c.records.ClaimPending(ctx, exec.ID); err != nil {
		return domain.NewPersistenceError("claim execution", err)
	}

	rc := &runContext{exec: exec, records: c.records, logger: c.logger, status: domain.StatusSuccess}
	rc.fl = newFlusher(rc.persist, c.flushInterval, c.logger)

	err = c.pipeline(ctx, rc, storage, payload, key, profileID, settings)
	if err != nil {
		rc.fail(err)
	}
	rc.finalize(ctx)
	return err
}

func (c *ConfigBackup) pipeline(
	ctx context.Context,
	rc *runContext,
	storage domain.Storage,
	payload, key []byte,
	profileID string,
	settings domain.ConfigBackupSettings,
) error {
	originalName := configArtifactPrefix + time.Now().Format("20060102_150405") + ".json"
	name := originalName + ".gz"
	if key != nil {
		name += ".enc"
	}

	sidecar := domain.NewSidecar(originalName, "CONFIG")
	sidecar.Compression = domain.CompressionGzip

	rc.enterStage("Writing config snapshot")
	tempPath := filepath.Join(c.tempDir, name)
	defer os.Remove(tempPath)

	out, err := os.Create(tempPath)
	if err != nil {
		return domain.NewAdapterError("create temp file", err)
	}

	var w io.Writer = out
	var enc *cipherstream.EncryptWriter
	if key != nil {
		enc, err = cipherstream.NewEncryptWriter(out, key)
		if err != nil {
			out.Close()
			return err
		}
		w = enc
		sidecar.Encryption = domain.EncryptionAESGCM
		sidecar.EncryptionProfileID = profileID
	}

	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, bytes.NewReader(payload)); err != nil {
		out.Close()
		return domain.NewAdapterError("compress config snapshot", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return domain.NewAdapterError("finish compression", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			out.Close()
			return domain.NewAdapterError("finish encryption", err)
		}
		tag, err := enc.AuthTag()
		if err != nil {
			out.Close()
			return err
		}
		sidecar.IV = hex.EncodeToString(enc.IV())
		sidecar.AuthTag = hex.EncodeToString(tag)
	}
	if err := out.Close(); err != nil {
		return domain.NewAdapterError("close temp file", err)
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		return domain.NewAdapterError("stat temp file", err)
	}
	sidecar.Size = info.Size()

	rc.enterStage("Uploading config snapshot")
	f, err := os.Open(tempPath)
	if err != nil {
		return domain.NewAdapterError("open temp file", err)
	}
	defer f.Close()

	if _, err := storage.Upload(ctx, domain.UploadInput{
		Filename:    name,
		Body:        f,
		Size:        info.Size(),
		ContentType: "application/octet-stream",
	}); err != nil {
		return domain.NewAdapterError("upload config snapshot", err)
	}

	meta, err := sidecar.Encode()
	if err != nil {
		return domain.NewAdapterError("encode sidecar", err)
	}
	if _, err := storage.Upload(ctx, domain.UploadInput{
		Filename:    domain.SidecarName(name),
		Body:        bytes.NewReader(meta),
		Size:        int64(len(meta)),
		ContentType: "application/json",
	}); err != nil {
		return domain.NewAdapterError("upload sidecar", err)
	}
	rc.setArtifact(name)
	rc.Logf("Uploaded %s (%d bytes, secrets=%v)", name, info.Size(), settings.IncludeSecrets)

	rc.enterStage("Pruning old config snapshots")
	if err := c.prune(ctx, rc, storage, settings.RetentionCount); err != nil {
		// Housekeeping only; the snapshot itself is already safe.
		rc.Logf("WARN: prune config snapshots: %v", err)
	}
	return nil
}

// prune keeps the newest keep snapshots by name. Names embed a sortable
// timestamp, so a descending name sort is a descending time sort.
func (c *ConfigBackup) prune(ctx context.Context, rc *runContext, storage domain.Storage, keep int) error {
	if keep <= 0 {
		return nil
	}

	files, err := storage.ListFiles(ctx, configArtifactPrefix)
	if err != nil {
		return err
	}

	var artifacts []string
	for _, f := range files {
		if strings.HasSuffix(f.Name, domain.SidecarSuffix) {
			continue
		}
		artifacts = append(artifacts, f.Name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(artifacts)))

	for _, name := range artifacts[min(keep, len(artifacts)):] {
		if err := storage.DeleteFile(ctx, name); err != nil {
			rc.Logf("WARN: delete %s: %v", name, err)
			continue
		}
		_ = storage.DeleteFile(ctx, domain.SidecarName(name))
		rc.Logf("Pruned %s", name)
	}
	return nil
}
