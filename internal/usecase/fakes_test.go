package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/semmidev/custodian/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

type fakeRecords struct {
	mu        sync.Mutex
	execs     map[string]*domain.Execution
	order     []string
	updateErr error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{execs: map[string]*domain.Execution{}}
}

func (f *fakeRecords) CreateExecution(_ context.Context, e *domain.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *e
	f.execs[e.ID] = &cp
	f.order = append(f.order, e.ID)
	return nil
}

func (f *fakeRecords) UpdateExecution(_ context.Context, id string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	e, ok := f.execs[id]
	if !ok {
		return errors.New("execution not found")
	}
	for k, v := range fields {
		switch k {
		case "log":
			e.Log = v.(string)
		case "progress":
			e.Progress = v.(float64)
		case "stage":
			e.Stage = v.(string)
		case "artifact_path":
			e.ArtifactPath = v.(string)
		case "status":
			e.Status = v.(domain.ExecutionStatus)
		case "ended_at":
			e.EndedAt = v.(*time.Time)
		}
	}
	return nil
}

func (f *fakeRecords) ClaimPending(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.execs[id]
	if !ok || e.Status != domain.StatusPending {
		return false, nil
	}
	e.Status = domain.StatusRunning
	now := time.Now()
	e.StartedAt = &now
	return true, nil
}

func (f *fakeRecords) CountByStatus(_ context.Context, status domain.ExecutionStatus) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, e := range f.execs {
		if e.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeRecords) OldestPending(_ context.Context, limit int) ([]*domain.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Execution
	for _, id := range f.order {
		if len(out) == limit {
			break
		}
		if e := f.execs[id]; e.Status == domain.StatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRecords) MarkPendingFailed(_ context.Context, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, e := range f.execs {
		if e.Status == domain.StatusPending {
			e.Status = domain.StatusFailed
			e.EndedAt = &now
			e.Log = reason
			n++
		}
	}
	return n, nil
}

func (f *fakeRecords) get(id string) domain.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.execs[id]
}

type fakeCatalog struct {
	jobs          map[string]*domain.Job
	profiles      map[string]*domain.EncryptionProfile
	pinned        map[string]bool
	maxConcurrent int
	cfg           domain.ConfigBackupSettings
	export        []byte
	exportErr     error
}

func (f *fakeCatalog) GetJob(_ context.Context, id string) (*domain.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return job, nil
}

func (f *fakeCatalog) GetProfile(_ context.Context, id string) (*domain.EncryptionProfile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return p, nil
}

func (f *fakeCatalog) PinnedArtifacts(context.Context, string) (map[string]bool, error) {
	if f.pinned == nil {
		return map[string]bool{}, nil
	}
	return f.pinned, nil
}

func (f *fakeCatalog) MaxConcurrentJobs(context.Context) (int, error) {
	if f.maxConcurrent < 1 {
		return 1, nil
	}
	return f.maxConcurrent, nil
}

func (f *fakeCatalog) ConfigBackupSettings(context.Context) (domain.ConfigBackupSettings, error) {
	return f.cfg, nil
}

func (f *fakeCatalog) ExportConfig(context.Context, bool) ([]byte, error) {
	return f.export, f.exportErr
}

// memStorage keeps uploads in memory so tests can inspect and corrupt them.
type memStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	mtimes    map[string]time.Time
	uploadErr error
	deleted   []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: map[string][]byte{}, mtimes: map[string]time.Time{}}
}

func (m *memStorage) Upload(_ context.Context, in domain.UploadInput) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[in.Filename] = data
	m.mtimes[in.Filename] = time.Now()
	return in.Filename, nil
}

func (m *memStorage) Download(_ context.Context, remoteName, localPath string, onProgress func(done, total int64)) error {
	m.mu.Lock()
	data, ok := m.objects[remoteName]
	m.mu.Unlock()
	if !ok {
		return errors.New("object not found: " + remoteName)
	}
	if onProgress != nil {
		onProgress(int64(len(data)), int64(len(data)))
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (m *memStorage) ListFiles(_ context.Context, prefix string) ([]domain.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.FileInfo
	for name, data := range m.objects {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out = append(out, domain.FileInfo{
				Name:         name,
				LastModified: m.mtimes[name],
				Size:         int64(len(data)),
			})
		}
	}
	return out, nil
}

func (m *memStorage) DeleteFile(_ context.Context, remoteName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, remoteName)
	delete(m.mtimes, remoteName)
	m.deleted = append(m.deleted, remoteName)
	return nil
}

func (m *memStorage) object(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	return data, ok
}

func (m *memStorage) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.objects {
		out = append(out, name)
	}
	return out
}

type fakeDatabase struct {
	content    []byte
	dumpErr    error
	restoreErr error

	mu       sync.Mutex
	restored []byte
}

func (f *fakeDatabase) Dump(_ context.Context, destPath string, sink domain.Sink) (*domain.DumpResult, error) {
	if f.dumpErr != nil {
		return nil, f.dumpErr
	}
	started := time.Now()
	if err := os.WriteFile(destPath, f.content, 0o600); err != nil {
		return nil, err
	}
	sink.Log("dump: wrote " + destPath)
	sink.Progress(100, "")
	return &domain.DumpResult{
		Path:        destPath,
		Size:        int64(len(f.content)),
		StartedAt:   started,
		CompletedAt: time.Now(),
	}, nil
}

func (f *fakeDatabase) Restore(_ context.Context, srcPath string, _ domain.Sink) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.restored = data
	f.mu.Unlock()
	return nil
}

func (f *fakeDatabase) Name() string            { return "testdb" }
func (f *fakeDatabase) Engine() string          { return "mysql" }
func (f *fakeDatabase) Ping(context.Context) error { return nil }

func (f *fakeDatabase) restoredData() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return bytes.Clone(f.restored)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Send(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}
