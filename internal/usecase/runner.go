package usecase

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/custodian/internal/cipherstream"
	"github.com/semmidev/custodian/internal/domain"
)

const defaultFlushInterval = time.Second

// Runner drives one execution through its pipeline: Initialize, Dump,
// Package, Upload, Cleanup, Finalize. Run and RunRestore fail synchronously
// only while initializing; later failures surface through the execution's
// terminal status in the record store.
type Runner struct {
	records   ExecutionRecords
	catalog   Catalog
	databases map[string]domain.Database
	storages  map[string]domain.Storage
	notifier  domain.Notifier
	masterKey []byte
	tempDir   string
	logger    Logger

	flushInterval time.Duration
	wg            sync.WaitGroup
}

func NewRunner(
	records ExecutionRecords,
	catalog Catalog,
	databases map[string]domain.Database,
	storages map[string]domain.Storage,
	notifier domain.Notifier,
	masterKey []byte,
	tempDir string,
	logger Logger,
) *Runner {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Runner{
		records:       records,
		catalog:       catalog,
		databases:     databases,
		storages:      storages,
		notifier:      notifier,
		masterKey:     masterKey,
		tempDir:       tempDir,
		logger:        logger,
		flushInterval: defaultFlushInterval,
	}
}

// Run creates an execution for the job and launches its backup pipeline.
// The returned execution ID identifies a run that is still in flight: Run
// returning says nothing about completion.
func (r *Runner) Run(ctx context.Context, jobID string) (string, error) {
	exec, err := r.createExecution(ctx, jobID, domain.KindBackup, "")
	if err != nil {
		return "", err
	}
	if err := r.Launch(ctx, exec); err != nil {
		return exec.ID, err
	}
	return exec.ID, nil
}

// Enqueue creates a pending execution without launching it. The queue manager
// picks it up on its next pass, subject to the concurrency ceiling.
func (r *Runner) Enqueue(ctx context.Context, jobID string) (string, error) {
	exec, err := r.createExecution(ctx, jobID, domain.KindBackup, "")
	if err != nil {
		return "", err
	}
	return exec.ID, nil
}

// Launch claims a pending execution and spawns its pipeline. A lost claim is
// not an error: another queue pass got there first and the launch is skipped,
// which is what closes the count-then-launch window.
func (r *Runner) Launch(ctx context.Context, exec *domain.Execution) error {
	job, err := r.catalog.GetJob(ctx, exec.JobID)
	if err == nil {
		err = r.validateJob(job)
	} else {
		err = domain.NewValidationError(fmt.Sprintf("job %s not found", exec.JobID), err)
	}
	if err != nil {
		// The execution row exists, so it still gets finalized as failed.
		if claimed, _ := r.records.ClaimPending(ctx, exec.ID); claimed {
			rc := r.newRunContext(exec)
			rc.fail(err)
			rc.finalize(ctx)
		}
		return err
	}

	claimed, err := r.records.ClaimPending(ctx, exec.ID)
	if err != nil {
		return domain.NewPersistenceError("claim execution", err)
	}
	if !claimed {
		return nil
	}

	started := time.Now()
	exec.StartedAt = &started

	rc := r.newRunContext(exec)
	rc.Logf("Execution %s started for job %s", exec.ID, job.Name)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Errorf("execution %s: pipeline panic: %v", exec.ID, rec)
				rc.fail(fmt.Errorf("pipeline panic: %v", rec))
				rc.finalize(context.Background())
			}
		}()
		// The pipeline outlives the launching call; only process shutdown
		// interrupts it.
		switch exec.Kind {
		case domain.KindRestore:
			r.restorePipeline(context.Background(), job, rc)
		default:
			r.backupPipeline(context.Background(), job, rc)
		}
	}()

	return nil
}

func (r *Runner) createExecution(ctx context.Context, jobID string, kind domain.ExecutionKind, artifact string) (*domain.Execution, error) {
	job, err := r.catalog.GetJob(ctx, jobID)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("job %s not found", jobID), err)
	}
	if err := r.validateJob(job); err != nil {
		return nil, err
	}

	exec := &domain.Execution{
		ID:           uuid.NewString(),
		JobID:        job.ID,
		Kind:         kind,
		Status:       domain.StatusPending,
		ArtifactPath: artifact,
		CreatedAt:    time.Now(),
	}
	if err := r.records.CreateExecution(ctx, exec); err != nil {
		return nil, domain.NewPersistenceError("create execution record", err)
	}
	return exec, nil
}

func (r *Runner) validateJob(job *domain.Job) error {
	if !job.Enabled {
		return domain.NewValidationError(fmt.Sprintf("job %s is disabled", job.ID), nil)
	}
	if _, ok := r.databases[job.ID]; !ok {
		return domain.NewValidationError(fmt.Sprintf("job %s has no database adapter", job.ID), nil)
	}
	if _, ok := r.storages[job.StorageTarget]; !ok {
		return domain.NewValidationError(fmt.Sprintf("job %s references unknown storage target %q", job.ID, job.StorageTarget), nil)
	}
	return nil
}

func (r *Runner) backupPipeline(ctx context.Context, job *domain.Job, rc *runContext) {
	var temps []string
	defer func() {
		r.cleanupTemps(rc, temps)
		rc.finalize(ctx)
		r.notify(ctx, job, rc)
	}()

	db := r.databases[job.ID]
	storage := r.storages[job.StorageTarget]

	rc.enterStage("Dumping database")
	dumpName := artifactBaseName(job)
	dumpPath := filepath.Join(r.tempDir, dumpName)
	temps = append(temps, dumpPath)

	res, err := db.Dump(ctx, dumpPath, rc)
	if err != nil {
		rc.fail(domain.NewAdapterError("dump failed", err))
		return
	}
	rc.Logf("Dump finished: %.2f MB in %s",
		float64(res.Size)/(1024*1024),
		res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))

	rc.enterStage("Packaging artifact")
	pkg, err := r.packageArtifact(ctx, job, dumpPath, dumpName)
	if err != nil {
		rc.fail(err)
		return
	}
	if pkg.path != dumpPath {
		temps = append(temps, pkg.path)
	}

	rc.enterStage("Uploading artifact")
	if err := r.uploadArtifact(ctx, storage, pkg, rc); err != nil {
		rc.fail(err)
		return
	}
	rc.setArtifact(pkg.name)
	rc.Logf("Uploaded %s (%.2f MB)", pkg.name, float64(pkg.size)/(1024*1024))

	r.applyRetention(ctx, job, storage, rc)
}

type packagedArtifact struct {
	path    string
	name    string
	size    int64
	sidecar *domain.Sidecar
}

// packageArtifact streams the raw dump through gzip and, when the job carries
// an encryption profile, through the authenticated encryption stream. The
// resulting sidecar records exactly how to reverse the packaging.
func (r *Runner) packageArtifact(ctx context.Context, job *domain.Job, dumpPath, dumpName string) (*packagedArtifact, error) {
	sidecar := domain.NewSidecar(dumpName, "DATABASE")

	var key []byte
	if job.EncryptionProfileID != "" {
		profile, err := r.catalog.GetProfile(ctx, job.EncryptionProfileID)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("encryption profile %s not found", job.EncryptionProfileID), err)
		}
		key, err = profile.Unwrap(r.masterKey)
		if err != nil {
			return nil, err
		}
		sidecar.Encryption = domain.EncryptionAESGCM
		sidecar.EncryptionProfileID = profile.ID
	}

	if !job.Compress && key == nil {
		info, err := os.Stat(dumpPath)
		if err != nil {
			return nil, domain.NewAdapterError("stat dump file", err)
		}
		sidecar.Size = info.Size()
		return &packagedArtifact{path: dumpPath, name: dumpName, size: info.Size(), sidecar: sidecar}, nil
	}

	name := dumpName
	if job.Compress {
		name += ".gz"
		sidecar.Compression = domain.CompressionGzip
	}
	if key != nil {
		name += ".enc"
	}
	outPath := filepath.Join(r.tempDir, name)

	in, err := os.Open(dumpPath)
	if err != nil {
		return nil, domain.NewAdapterError("open dump file", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return nil, domain.NewAdapterError("create packaged artifact", err)
	}

	var w io.Writer = out
	var enc *cipherstream.EncryptWriter
	if key != nil {
		enc, err = cipherstream.NewEncryptWriter(out, key)
		if err != nil {
			out.Close()
			return nil, err
		}
		w = enc
	}

	if job.Compress {
		gz := gzip.NewWriter(w)
		if _, err := io.Copy(gz, in); err != nil {
			out.Close()
			return nil, domain.NewAdapterError("compress artifact", err)
		}
		if err := gz.Close(); err != nil {
			out.Close()
			return nil, domain.NewAdapterError("finish compression", err)
		}
	} else {
		if _, err := io.Copy(w, in); err != nil {
			out.Close()
			return nil, domain.NewAdapterError("package artifact", err)
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			out.Close()
			return nil, domain.NewAdapterError("finish encryption", err)
		}
		tag, err := enc.AuthTag()
		if err != nil {
			out.Close()
			return nil, err
		}
		sidecar.IV = hex.EncodeToString(enc.IV())
		sidecar.AuthTag = hex.EncodeToString(tag)
	}

	if err := out.Close(); err != nil {
		return nil, domain.NewAdapterError("close packaged artifact", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, domain.NewAdapterError("stat packaged artifact", err)
	}
	sidecar.Size = info.Size()

	return &packagedArtifact{path: outPath, name: name, size: info.Size(), sidecar: sidecar}, nil
}

func (r *Runner) uploadArtifact(ctx context.Context, storage domain.Storage, pkg *packagedArtifact, rc *runContext) error {
	f, err := os.Open(pkg.path)
	if err != nil {
		return domain.NewAdapterError("open packaged artifact", err)
	}
	defer f.Close()

	body := &progressReader{r: f, total: pkg.size, report: func(done, total int64) {
		rc.Progress(float64(done)/float64(total)*100,
			fmt.Sprintf("Uploading artifact (%.1f / %.1f MB)", float64(done)/(1024*1024), float64(total)/(1024*1024)))
	}}

	if _, err := storage.Upload(ctx, domain.UploadInput{
		Filename:    pkg.name,
		Body:        body,
		Size:        pkg.size,
		ContentType: "application/octet-stream",
	}); err != nil {
		return domain.NewAdapterError("upload artifact", err)
	}

	meta, err := pkg.sidecar.Encode()
	if err != nil {
		return domain.NewAdapterError("encode sidecar", err)
	}
	if _, err := storage.Upload(ctx, domain.UploadInput{
		Filename:    domain.SidecarName(pkg.name),
		Body:        strings.NewReader(string(meta)),
		Size:        int64(len(meta)),
		ContentType: "application/json",
	}); err != nil {
		return domain.NewAdapterError("upload sidecar", err)
	}

	return nil
}

// applyRetention prunes the job's destination after a successful upload.
// Pruning is housekeeping: failures are logged into the execution transcript
// but never fail the backup that just succeeded.
func (r *Runner) applyRetention(ctx context.Context, job *domain.Job, storage domain.Storage, rc *runContext) {
	if job.Retention.Mode == domain.RetentionNone || job.Retention.Mode == "" {
		return
	}

	rc.enterStage("Applying retention")

	files, err := storage.ListFiles(ctx, job.Name+"_")
	if err != nil {
		rc.Logf("WARN: list destination for retention: %v", err)
		return
	}

	pinned, err := r.catalog.PinnedArtifacts(ctx, job.ID)
	if err != nil {
		rc.Logf("WARN: load pinned artifacts: %v", err)
		return
	}

	var artifacts []domain.FileInfo
	for _, f := range files {
		if strings.HasSuffix(f.Name, domain.SidecarSuffix) {
			continue
		}
		f.Locked = pinned[f.Name]
		artifacts = append(artifacts, f)
	}

	result := CalculateRetention(artifacts, job.Retention)
	pruned := 0
	for _, f := range result.Delete {
		if err := storage.DeleteFile(ctx, f.Name); err != nil {
			rc.Logf("WARN: prune %s: %v", f.Name, err)
			continue
		}
		// The sidecar follows its artifact.
		_ = storage.DeleteFile(ctx, domain.SidecarName(f.Name))
		pruned++
	}
	rc.Logf("Retention applied: kept %d, pruned %d", len(result.Keep), pruned)
}

func (r *Runner) cleanupTemps(rc *runContext, temps []string) {
	for _, path := range temps {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			rc.Logf("WARN: remove temp file %s: %v", path, err)
		}
	}
}

func (r *Runner) notify(ctx context.Context, job *domain.Job, rc *runContext) {
	if r.notifier == nil {
		return
	}
	msg := fmt.Sprintf("Job %q finished with status %s (execution %s)", job.Name, rc.finalStatus(), rc.exec.ID)
	if err := r.notifier.Send(ctx, msg); err != nil {
		r.logger.Warnf("notification for execution %s failed: %v", rc.exec.ID, err)
	}
}

// wait blocks until all spawned pipelines have returned. Tests use it; in
// production drain happens by polling the record store.
func (r *Runner) wait() {
	r.wg.Wait()
}

func artifactBaseName(job *domain.Job) string {
	ext := map[string]string{
		"mysql":      ".sql",
		"postgresql": ".dump",
		"mongodb":    ".archive",
	}[job.Engine]
	if ext == "" {
		ext = ".backup"
	}
	return fmt.Sprintf("%s_%s_%s%s", job.Name, job.Engine, time.Now().Format("20060102_150405"), ext)
}

type progressReader struct {
	r      io.Reader
	total  int64
	done   int64
	report func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if n > 0 && p.report != nil && p.total > 0 {
		p.report(p.done, p.total)
	}
	return n, err
}
