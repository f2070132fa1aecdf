package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dbsmedya/gorecipe/internal/config"
	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/dataset"
	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/recipe"
	"github.com/dbsmedya/gorecipe/internal/registry"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/steps"
)

type funcExporter struct {
	name string
	fn   func(ctx context.Context, set relation.Set, params map[string]any) connector.Result
}

func (e *funcExporter) Name() string { return e.name }

func (e *funcExporter) Export(ctx context.Context, set relation.Set, params map[string]any) connector.Result {
	return e.fn(ctx, set, params)
}

type memStore struct {
	mu      sync.Mutex
	records []Info
}

func (s *memStore) Record(_ context.Context, info Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, info)
	return nil
}

func (s *memStore) statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, len(s.records))
	for i, r := range s.records {
		out[i] = r.Status
	}
	return out
}

type fixture struct {
	manager   *Manager
	datasets  *dataset.Registry
	exporters *connector.Registry
	steps     *registry.Registry
}

func newFixture(t *testing.T, workers int, store Store) *fixture {
	t.Helper()
	reg, err := steps.NewRegistry()
	require.NoError(t, err)
	datasets := dataset.NewRegistry()
	views := engine.NewViews(datasets, engine.NewExecutor(reg, logger.NewNop()), config.EngineConfig{}, logger.NewNop())
	exporters := connector.NewDefaultRegistry(nil, logger.NewNop())

	require.NoError(t, datasets.Add("A", dataset.Metadata{
		Set: relation.Single(relation.FromFrame(relation.NewFrame([]string{"x"},
			[]any{int64(1)}, []any{int64(2)}, []any{nil}))),
	}))

	m := NewManager(views, exporters, store, Options{MaxWorkers: workers}, logger.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &fixture{manager: m, datasets: datasets, exporters: exporters, steps: reg}
}

func (f *fixture) register(t *testing.T, name string, fn func(ctx context.Context, set relation.Set, params map[string]any) connector.Result) {
	t.Helper()
	require.NoError(t, f.exporters.RegisterExporter(&funcExporter{name: name, fn: fn}))
}

// blockUntil registers an exporter that waits for release or cancellation.
func (f *fixture) blockUntil(t *testing.T, name string, release <-chan struct{}) {
	f.register(t, name, func(ctx context.Context, _ relation.Set, _ map[string]any) connector.Result {
		select {
		case <-release:
			return connector.Result{Status: connector.StatusDone, SizeStr: "1 B"}
		case <-ctx.Done():
			return connector.ErrorResult(ctx.Err())
		}
	})
}

func wait(t *testing.T, m *Manager, id string) Info {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return info
}

func TestSubmit_RunningBeforeReturn(t *testing.T) {
	f := newFixture(t, 2, nil)
	release := make(chan struct{})
	f.blockUntil(t, "block", release)

	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block", Params: map[string]any{"path": "out.csv"}})
	require.NoError(t, err)

	info, ok := f.manager.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, info.Status)
	assert.Equal(t, UnknownSize, info.SizeStr)
	assert.Equal(t, "out.csv", info.OutputPath)
	assert.Nil(t, info.Error)

	close(release)
	info = wait(t, f.manager, id)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, "1 B", info.SizeStr)
	assert.GreaterOrEqual(t, info.Duration, 0.0)
	assert.False(t, info.FinishedAt.IsZero())
}

func TestSubmit_UnknownExporter(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "parquet"})
	assert.ErrorIs(t, err, connector.ErrUnknownExporter)
	assert.Empty(t, f.manager.List())
}

func TestExport_CSVWithRecipe(t *testing.T) {
	f := newFixture(t, 1, nil)
	path := filepath.Join(t.TempDir(), "a.csv")

	id, err := f.manager.Submit(ExportRequest{
		Dataset:  "A",
		Recipe:   recipe.Recipe{recipe.NewStep("drop_nulls", "", nil)},
		Exporter: "csv",
		Params:   map[string]any{"path": path},
	})
	require.NoError(t, err)

	info := wait(t, f.manager, id)
	require.Equal(t, StatusCompleted, info.Status, info.ErrorMessage())
	require.Len(t, info.FileDetails, 1)
	assert.Equal(t, path, info.FileDetails[0].Path)
	assert.NotEqual(t, UnknownSize, info.SizeStr)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x\n1\n2\n", string(data))
}

func TestExport_StoredRecipeUsedWhenNil(t *testing.T) {
	f := newFixture(t, 1, nil)
	require.NoError(t, f.datasets.SetRecipe("A", recipe.Recipe{
		recipe.NewStep("fill_nulls", "", map[string]any{"strategy": "zero"}),
	}))
	path := filepath.Join(t.TempDir(), "a.ndjson")

	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "ndjson", Params: map[string]any{"path": path}})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, wait(t, f.manager, id).Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"x":0}`)
}

func TestExport_IndividualProducesOneArtifactPerFile(t *testing.T) {
	f := newFixture(t, 2, nil)
	rels := make([]*relation.Relation, 3)
	for i := range rels {
		rels[i] = relation.FromFrame(relation.NewFrame([]string{"v"}, []any{int64(i)}, []any{int64(i * 10)})).
			WithLabel(filepath.Join("in", []string{"jan", "feb", "mar"}[i]+".csv"))
	}
	set, err := relation.PerFile(rels)
	require.NoError(t, err)
	require.NoError(t, f.datasets.Add("monthly", dataset.Metadata{Set: set, ProcessIndividual: true}))

	dir := t.TempDir()
	id, err := f.manager.Submit(ExportRequest{
		Dataset: "monthly",
		Recipe: recipe.Recipe{recipe.NewStep("aggregate", "", map[string]any{"aggs": []any{
			map[string]any{"col": "v", "op": "sum", "alias": "total"},
		}})},
		Exporter: "csv",
		Params:   map[string]any{"path": filepath.Join(dir, "report.csv"), "export_individual": true},
	})
	require.NoError(t, err)

	info := wait(t, f.manager, id)
	require.Equal(t, StatusCompleted, info.Status, info.ErrorMessage())
	require.Len(t, info.FileDetails, 3)
	for i, want := range []string{"report_jan.csv", "report_feb.csv", "report_mar.csv"} {
		assert.Equal(t, want, info.FileDetails[i].Name)
		assert.FileExists(t, filepath.Join(dir, want))
	}
}

func TestExport_PrecomputedBypassesDataset(t *testing.T) {
	f := newFixture(t, 1, nil)
	var got atomic.Int32
	f.register(t, "count", func(ctx context.Context, set relation.Set, _ map[string]any) connector.Result {
		fr, err := set.Concat().Collect(ctx)
		if err != nil {
			return connector.ErrorResult(err)
		}
		got.Store(int32(fr.Len()))
		return connector.Result{Status: connector.StatusDone}
	})

	id, err := f.manager.Submit(ExportRequest{
		Dataset:     "query result",
		Exporter:    "count",
		Precomputed: relation.Single(relation.FromFrame(relation.NewFrame([]string{"a"}, []any{1}, []any{2}, []any{3}, []any{4}))),
	})
	require.NoError(t, err)
	info := wait(t, f.manager, id)
	assert.Equal(t, StatusCompleted, info.Status)
	assert.Equal(t, UnknownSize, info.SizeStr)
	assert.EqualValues(t, 4, got.Load())
}

func TestExport_DatasetDeletedBeforeWorkerStarts(t *testing.T) {
	f := newFixture(t, 1, nil)
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	f.register(t, "gate", func(context.Context, relation.Set, map[string]any) connector.Result {
		started <- struct{}{}
		<-release
		return connector.Result{Status: connector.StatusDone}
	})
	require.NoError(t, f.datasets.Add("B", dataset.Metadata{Set: relation.Single(relation.FromFrame(relation.NewFrame([]string{"x"})))}))

	first, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "gate"})
	require.NoError(t, err)
	<-started
	second, err := f.manager.Submit(ExportRequest{Dataset: "B", Exporter: "gate"})
	require.NoError(t, err)

	require.NoError(t, f.datasets.Remove("B"))
	close(release)

	assert.Equal(t, StatusCompleted, wait(t, f.manager, first).Status)
	info := wait(t, f.manager, second)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Contains(t, info.ErrorMessage(), "not found")
}

func TestExport_Failures(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.register(t, "broken", func(context.Context, relation.Set, map[string]any) connector.Result {
		return connector.Result{Status: "Error: disk full"}
	})
	f.register(t, "odd", func(context.Context, relation.Set, map[string]any) connector.Result {
		return connector.Result{Status: "Written"}
	})
	f.register(t, "panics", func(context.Context, relation.Set, map[string]any) connector.Result {
		panic("boom")
	})

	tests := []struct {
		name     string
		req      ExportRequest
		status   Status
		errorSub string
	}{
		{"error result", ExportRequest{Dataset: "A", Exporter: "broken"}, StatusFailed, "Error: disk full"},
		{"unmarked result completes", ExportRequest{Dataset: "A", Exporter: "odd"}, StatusCompleted, ""},
		{"panic", ExportRequest{Dataset: "A", Exporter: "panics"}, StatusFailed, "panicked: boom"},
		{"unknown step", ExportRequest{Dataset: "A", Exporter: "odd", Recipe: recipe.Recipe{recipe.NewStep("nope", "", nil)}}, StatusFailed, "unknown step type"},
		{"missing dataset", ExportRequest{Dataset: "ghost", Exporter: "odd"}, StatusFailed, "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := f.manager.Submit(tt.req)
			require.NoError(t, err)
			info := wait(t, f.manager, id)
			assert.Equal(t, tt.status, info.Status)
			if tt.errorSub != "" {
				assert.Contains(t, info.ErrorMessage(), tt.errorSub)
			} else {
				assert.Nil(t, info.Error)
			}
		})
	}
}

func TestManager_PoolIsBounded(t *testing.T) {
	f := newFixture(t, 2, nil)
	release := make(chan struct{})
	var running, peak atomic.Int32
	f.register(t, "slow", func(context.Context, relation.Set, map[string]any) connector.Result {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return connector.Result{Status: connector.StatusDone}
	})

	ids := make([]string, 5)
	for i := range ids {
		id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "slow"})
		require.NoError(t, err)
		ids[i] = id
	}

	assert.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	for _, info := range f.manager.List() {
		assert.Equal(t, StatusRunning, info.Status)
	}

	close(release)
	for _, id := range ids {
		assert.Equal(t, StatusCompleted, wait(t, f.manager, id).Status)
	}
	assert.EqualValues(t, 2, peak.Load())
}

func TestManager_Cancel(t *testing.T) {
	f := newFixture(t, 1, nil)
	release := make(chan struct{})
	defer close(release)
	f.blockUntil(t, "block", release)

	running, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block"})
	require.NoError(t, err)
	queued, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block"})
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(queued))
	require.NoError(t, f.manager.Cancel(running))

	for _, id := range []string{running, queued} {
		info := wait(t, f.manager, id)
		assert.Equal(t, StatusFailed, info.Status)
		assert.Equal(t, "canceled", info.ErrorMessage())
	}

	assert.ErrorIs(t, f.manager.Cancel("missing"), ErrJobNotFound)
	require.NoError(t, f.manager.Cancel(running))
}

func TestManager_StatusAndWaitUnknown(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, ok := f.manager.Status("nope")
	assert.False(t, ok)
	_, ok = f.manager.Done("nope")
	assert.False(t, ok)
	_, err := f.manager.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestManager_WaitHonorsContext(t *testing.T) {
	f := newFixture(t, 1, nil)
	release := make(chan struct{})
	defer close(release)
	f.blockUntil(t, "block", release)

	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.manager.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_StatusIsACopy(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.register(t, "files", func(context.Context, relation.Set, map[string]any) connector.Result {
		return connector.Result{Status: connector.StatusDone, SizeStr: "2 B", FileDetails: []connector.FileDetail{{Name: "a", Path: "/a", Size: "2 B"}}}
	})
	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "files"})
	require.NoError(t, err)
	info := wait(t, f.manager, id)

	info.FileDetails[0].Name = "changed"
	again, _ := f.manager.Status(id)
	assert.Equal(t, "a", again.FileDetails[0].Name)
}

func TestManager_RecordsToStore(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, 1, store)
	f.register(t, "ok", func(context.Context, relation.Set, map[string]any) connector.Result {
		return connector.Result{Status: connector.StatusDone}
	})

	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "ok"})
	require.NoError(t, err)
	wait(t, f.manager, id)

	assert.Eventually(t, func() bool { return len(store.statuses()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []Status{StatusRunning, StatusCompleted}, store.statuses())
}

func TestManager_Shutdown(t *testing.T) {
	f := newFixture(t, 1, nil)
	release := make(chan struct{})
	f.blockUntil(t, "block", release)

	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.manager.Shutdown(ctx), context.DeadlineExceeded)

	info, _ := f.manager.Status(id)
	assert.Equal(t, StatusFailed, info.Status)
	assert.Equal(t, "canceled", info.ErrorMessage())

	_, err = f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "block"})
	assert.ErrorIs(t, err, ErrShutdown)
	close(release)
}

func TestSizeOf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	assert.Equal(t, "3 kB", sizeOf(connector.Result{SizeStr: "3 kB"}, path))
	assert.Equal(t, "5 B", sizeOf(connector.Result{}, path))
	assert.Equal(t, UnknownSize, sizeOf(connector.Result{}, filepath.Join(t.TempDir(), "missing")))
	assert.Equal(t, UnknownSize, sizeOf(connector.Result{}, ""))
}

func TestInfo_JSONShape(t *testing.T) {
	info := Info{JobID: "j1", Status: StatusRunning, SizeStr: UnknownSize}
	b, err := json.Marshal(info)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "RUNNING", m["status"])
	assert.Contains(t, m, "error")
	assert.Nil(t, m["error"])
	assert.Nil(t, m["file_details"])
	assert.Equal(t, "Unknown", m["size_str"])
	assert.NotContains(t, m, "finished_at")
}

type noParams struct{}

func (*noParams) Validate() error { return nil }

func TestExport_PanickingStepFailsJob(t *testing.T) {
	f := newFixture(t, 2, nil)
	require.NoError(t, f.steps.Register(registry.Define(registry.Meta{Type: "explode"},
		func() *noParams { return &noParams{} },
		func(_ context.Context, rel *relation.Relation, _ *noParams, _ *recipe.TransformContext) (*relation.Relation, error) {
			return rel.Then("explode", func(_ context.Context, fr *relation.Frame) (*relation.Frame, error) {
				_ = fr.Rows[0][99]
				return fr, nil
			}), nil
		})))

	rels := []*relation.Relation{
		relation.FromFrame(relation.NewFrame([]string{"v"}, []any{int64(1)})).WithLabel("jan.csv"),
		relation.FromFrame(relation.NewFrame([]string{"v"}, []any{int64(2)})).WithLabel("feb.csv"),
	}
	set, err := relation.PerFile(rels)
	require.NoError(t, err)
	require.NoError(t, f.datasets.Add("monthly", dataset.Metadata{Set: set, ProcessIndividual: true}))

	for _, individual := range []bool{false, true} {
		dir := t.TempDir()
		id, err := f.manager.Submit(ExportRequest{
			Dataset:  "monthly",
			Recipe:   recipe.Recipe{recipe.NewStep("explode", "", nil)},
			Exporter: "csv",
			Params:   map[string]any{"path": filepath.Join(dir, "out.csv"), "export_individual": individual},
		})
		require.NoError(t, err)

		info := wait(t, f.manager, id)
		assert.Equal(t, StatusFailed, info.Status, "individual=%v", individual)
		assert.Contains(t, info.ErrorMessage(), "step 0 (explode)")
		assert.Contains(t, info.ErrorMessage(), "index out of range")
	}

	// The manager keeps serving jobs afterwards.
	id, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "csv", Params: map[string]any{"path": filepath.Join(t.TempDir(), "a.csv")}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wait(t, f.manager, id).Status)
}

func TestSubmit_MalformedExportParams(t *testing.T) {
	f := newFixture(t, 1, nil)
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"path is not a string", map[string]any{"path": map[string]any{"dir": "out"}}},
		{"individual is not a bool", map[string]any{"path": "out.csv", "export_individual": "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Submit(ExportRequest{Dataset: "A", Exporter: "csv", Params: tt.params})
			assert.ErrorContains(t, err, "invalid export params")
		})
	}
	assert.Empty(t, f.manager.List())
}

func TestExport_WorkerLogsCarryJobFields(t *testing.T) {
	f := newFixture(t, 1, nil)
	core, logs := observer.New(zapcore.DebugLevel)
	m := NewManager(f.manager.views, f.exporters, nil, Options{MaxWorkers: 1}, logger.FromCore(core))
	defer func() { _ = m.Shutdown(context.Background()) }()
	f.register(t, "noop", func(context.Context, relation.Set, map[string]any) connector.Result {
		return connector.Result{Status: connector.StatusDone}
	})

	id, err := m.Submit(ExportRequest{Dataset: "A", Exporter: "noop"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, wait(t, m, id).Status)

	entries := logs.FilterMessage("Export worker started").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, id, fields["job_id"])
	assert.Equal(t, "A", fields["dataset"])
	assert.Equal(t, "noop", fields["exporter"])
}
