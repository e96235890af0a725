package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/strata-labs/strata-go/internal/compile"
	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func builtinRegistry(t *testing.T) *registry.InMemory {
	t.Helper()
	reg, err := registry.Builtin()
	if err != nil {
		t.Fatalf("Builtin() err=%v", err)
	}
	return reg
}

// sealManifest computes and records the real manifest hash so the fixture
// survives the integrity check on the transported payload.
func sealManifest(t *testing.T, m domain.Manifest) domain.Manifest {
	t.Helper()
	hash, err := compile.ComputeManifestHash(m)
	if err != nil {
		t.Fatalf("ComputeManifestHash() err=%v", err)
	}
	m.Meta.ManifestHash = hash
	m.Meta.ManifestShort = hash[:12]
	return m
}

func testManifest(t *testing.T, extra ...domain.ManifestStep) domain.Manifest {
	t.Helper()
	m := domain.Manifest{
		Meta: domain.ManifestMeta{
			CompilerVersion: "strata-compiler/0.4.0",
			Pipeline:        "orders",
		},
		Steps: []domain.ManifestStep{
			{ID: "gen", Component: "rowgen", Config: domain.Metadata{"rows": 3}},
			{ID: "tally", Component: "rowcount", Needs: []string{"gen"}},
		},
	}
	m.Steps = append(m.Steps, extra...)
	return sealManifest(t, m)
}

// fakeTransfer is an in-memory object store.
type fakeTransfer struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{objects: make(map[string][]byte)}
}

func (f *fakeTransfer) Upload(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.objects[key] = cp
	return nil
}

func (f *fakeTransfer) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found: " + key)
	}
	return data, nil
}

func (f *fakeTransfer) List(_ context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// fakeSandbox executes the uploaded payload through the shared engine on
// Submit, mimicking a synchronous sandbox service.
type fakeSandbox struct {
	transfer *fakeTransfer
	reg      registry.Registry
	status   map[string]RemoteStatus
}

func newFakeSandbox(transfer *fakeTransfer, reg registry.Registry) *fakeSandbox {
	return &fakeSandbox{transfer: transfer, reg: reg, status: make(map[string]RemoteStatus)}
}

func (f *fakeSandbox) Submit(ctx context.Context, payloadKey string) (string, error) {
	data, err := f.transfer.Download(ctx, payloadKey)
	if err != nil {
		return "", err
	}
	run, err := UnmarshalRun(data)
	if err != nil {
		return "", err
	}
	engine, err := exec.NewEngine(f.reg, discardLogger(), exec.RunnerConfig{
		LookupEnv: func(string) (string, bool) { return "x", true },
	})
	if err != nil {
		return "", err
	}
	scratch, err := tempDir()
	if err != nil {
		return "", err
	}
	run.Paths.WorkDir = scratch
	run.Paths.ArtifactDir = scratch
	result, err := engine.Run(ctx, run)
	if err != nil {
		return "", err
	}
	resultData, err := MarshalResult(result)
	if err != nil {
		return "", err
	}
	resultKey := ResultKey(run.Paths.RemoteNamespace)
	if err := f.transfer.Upload(ctx, resultKey, resultData); err != nil {
		return "", err
	}
	files, err := exec.InventoryArtifacts(run.Paths.ArtifactDir)
	if err != nil {
		return "", err
	}
	for _, file := range files {
		body, err := readFile(scratch, file.Path)
		if err != nil {
			return "", err
		}
		if err := f.transfer.Upload(ctx, ArtifactKey(run.Paths.RemoteNamespace, file.Path), body); err != nil {
			return "", err
		}
	}
	state := StateSucceeded
	if result.Status == domain.RunFailed {
		state = StateFailed
	}
	f.status[run.RunID] = RemoteStatus{State: state, ResultKey: resultKey}
	return run.RunID, nil
}

func (f *fakeSandbox) Status(_ context.Context, id string) (RemoteStatus, error) {
	status, ok := f.status[id]
	if !ok {
		return RemoteStatus{}, errors.New("unknown remote run " + id)
	}
	return status, nil
}

func (f *fakeSandbox) Cancel(_ context.Context, id string) error {
	f.status[id] = RemoteStatus{State: StateCancelled}
	return nil
}

func tempDir() (string, error) {
	return os.MkdirTemp("", "strata-sandbox-*")
}

func readFile(dir, rel string) ([]byte, error) {
	return os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
}

func TestStageTransitions(t *testing.T) {
	allowed := [][2]Stage{
		{StagePrepared, StageUploading},
		{StageUploading, StageExecuting},
		{StageExecuting, StageDownloading},
		{StageDownloading, StageCollected},
		{StagePrepared, StageCancelled},
		{StageExecuting, StageCancelled},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be allowed", pair[0], pair[1])
		}
	}
	forbidden := [][2]Stage{
		{StageUploading, StagePrepared},
		{StageCollected, StageCancelled},
		{StageCancelled, StageUploading},
		{StagePrepared, StageDownloading},
	}
	for _, pair := range forbidden {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("%s -> %s should be forbidden", pair[0], pair[1])
		}
	}
}

func TestRunPayloadRoundTrip(t *testing.T) {
	reg := builtinRegistry(t)
	run, err := exec.PrepareRun(reg, testManifest(t), domain.RunParams{Profile: "dev", Seed: 7}, "remote", t.TempDir())
	if err != nil {
		t.Fatalf("PrepareRun() err=%v", err)
	}
	data, err := MarshalRun(run)
	if err != nil {
		t.Fatalf("MarshalRun() err=%v", err)
	}
	if strings.Contains(string(data), run.Paths.WorkDir) {
		t.Fatalf("payload leaks host-local paths")
	}
	back, err := UnmarshalRun(data)
	if err != nil {
		t.Fatalf("UnmarshalRun() err=%v", err)
	}
	if back.RunID != run.RunID || back.Params.Seed != 7 || back.Params.Profile != "dev" {
		t.Fatalf("round trip lost fields: %+v", back)
	}
	if back.Manifest.Meta.ManifestHash != run.Manifest.Meta.ManifestHash {
		t.Fatalf("manifest hash changed")
	}
	if back.Paths.RemoteNamespace != run.Paths.RemoteNamespace {
		t.Fatalf("remote namespace lost")
	}
	if len(back.StepConfigs) != len(run.StepConfigs) {
		t.Fatalf("step configs lost")
	}
}

func TestUnmarshalRunRejectsForgedManifestHash(t *testing.T) {
	reg := builtinRegistry(t)
	m := testManifest(t)
	m.Meta.ManifestHash = strings.Repeat("ab", 32)
	m.Meta.ManifestShort = m.Meta.ManifestHash[:12]
	run, err := exec.PrepareRun(reg, m, domain.RunParams{}, "remote", t.TempDir())
	if err != nil {
		t.Fatalf("PrepareRun() err=%v", err)
	}
	data, err := MarshalRun(run)
	if err != nil {
		t.Fatalf("MarshalRun() err=%v", err)
	}
	var integrity *domain.ManifestIntegrityError
	if _, err := UnmarshalRun(data); !errors.As(err, &integrity) {
		t.Fatalf("UnmarshalRun() err=%v, want manifest integrity error", err)
	}
}

func TestAdapterExecuteHappyPath(t *testing.T) {
	reg := builtinRegistry(t)
	transfer := newFakeTransfer()
	client := newFakeSandbox(transfer, reg)
	adapter, err := NewAdapter(reg, transfer, client, discardLogger(), AdapterConfig{
		PollInterval: time.Millisecond,
		StageTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewAdapter() err=%v", err)
	}

	run, err := adapter.Prepare(context.Background(), testManifest(t), domain.RunParams{Profile: "dev"}, t.TempDir())
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	result, err := adapter.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if result.Status != domain.RunSucceeded {
		t.Fatalf("status = %q, want succeeded", result.Status)
	}
	statuses := result.StepStatuses()
	if statuses["gen"] != domain.StepSucceeded || statuses["tally"] != domain.StepSucceeded {
		t.Fatalf("unexpected statuses %v", statuses)
	}
	if result.Metrics["rows"] != 6 {
		t.Fatalf("rows = %v, want 6", result.Metrics["rows"])
	}
}

func TestAdapterExecuteFailedRunPropagates(t *testing.T) {
	reg := registry.NewInMemory()
	if err := reg.Register(registry.ComponentSpec{Name: "boom"}, registry.DriverFunc(
		func(context.Context, string, domain.Metadata, map[string]any, registry.RunContext) (map[string]any, error) {
			return nil, errors.New("driver exploded")
		},
	)); err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	m := sealManifest(t, domain.Manifest{
		Meta: domain.ManifestMeta{
			CompilerVersion: "strata-compiler/0.4.0",
			Pipeline:        "orders",
		},
		Steps: []domain.ManifestStep{{ID: "a", Component: "boom"}},
	})

	transfer := newFakeTransfer()
	adapter, err := NewAdapter(reg, transfer, newFakeSandbox(transfer, reg), discardLogger(), AdapterConfig{
		PollInterval: time.Millisecond,
		StageTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewAdapter() err=%v", err)
	}
	run, err := adapter.Prepare(context.Background(), m, domain.RunParams{}, t.TempDir())
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	result, err := adapter.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if result.Status != domain.RunFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if result.StepStatuses()["a"] != domain.StepFailed {
		t.Fatalf("step status = %v", result.StepStatuses())
	}
}

func TestAdapterCollectDownloadedArtifacts(t *testing.T) {
	reg := builtinRegistry(t)
	m := testManifest(t, domain.ManifestStep{
		ID: "sink", Component: "warehouse_sink", Needs: []string{"gen"},
		Config: domain.Metadata{"table": "orders", "connection": domain.Metadata{"password": "${secret:WH}"}},
	})
	transfer := newFakeTransfer()
	adapter, err := NewAdapter(reg, transfer, newFakeSandbox(transfer, reg), discardLogger(), AdapterConfig{
		PollInterval: time.Millisecond,
		StageTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewAdapter() err=%v", err)
	}
	run, err := adapter.Prepare(context.Background(), m, domain.RunParams{}, t.TempDir())
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	result, err := adapter.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if result.Status != domain.RunSucceeded {
		t.Fatalf("status = %q", result.Status)
	}
	collected, err := adapter.Collect(context.Background(), run, result)
	if err != nil {
		t.Fatalf("Collect() err=%v", err)
	}
	if len(collected.Files) != 1 || collected.Files[0].Path != "sink.load" {
		t.Fatalf("artifacts = %v", collected.Files)
	}
}

func TestAdapterCancelledContext(t *testing.T) {
	reg := builtinRegistry(t)
	transfer := newFakeTransfer()
	adapter, err := NewAdapter(reg, transfer, newFakeSandbox(transfer, reg), discardLogger(), AdapterConfig{
		PollInterval: time.Millisecond,
		StageTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewAdapter() err=%v", err)
	}
	run, err := adapter.Prepare(context.Background(), testManifest(t), domain.RunParams{}, t.TempDir())
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := adapter.Execute(ctx, run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if result.Status != domain.RunCancelled {
		t.Fatalf("status = %q, want cancelled", result.Status)
	}
	for _, s := range result.Steps {
		if s.Status != domain.StepSkipped {
			t.Fatalf("step %q status = %q, want skipped", s.StepID, s.Status)
		}
	}
}
