package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dbsmedya/gorecipe/internal/connector"
	"github.com/dbsmedya/gorecipe/internal/engine"
	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/relation"
)

var (
	// ErrJobNotFound is returned for an unknown job ID.
	ErrJobNotFound = errors.New("job not found")
	// ErrShutdown is returned by Submit after Shutdown was called.
	ErrShutdown = errors.New("job manager is shut down")
)

// canceledMessage is the error recorded for a job stopped by Cancel.
const canceledMessage = "canceled"

// Store persists job records. Record is called when a job is submitted and
// again when it finishes.
type Store interface {
	Record(ctx context.Context, info Info) error
}

// Options configures a Manager.
type Options struct {
	// MaxWorkers bounds the number of exports running at once. Jobs beyond
	// it wait for a slot and stay RUNNING meanwhile.
	MaxWorkers int
}

type job struct {
	info   Info
	done   chan struct{}
	cancel context.CancelFunc
}

// Manager runs export jobs and tracks their status.
type Manager struct {
	views     *engine.Views
	exporters *connector.Registry
	store     Store
	slots     *semaphore.Weighted
	logger    *logger.Logger

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool
}

// NewManager creates a job manager. store may be nil.
func NewManager(views *engine.Views, exporters *connector.Registry, store Store, opts Options, log *logger.Logger) *Manager {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		views:     views,
		exporters: exporters,
		store:     store,
		slots:     semaphore.NewWeighted(int64(opts.MaxWorkers)),
		logger:    log,
		baseCtx:   ctx,
		stopAll:   cancel,
		jobs:      make(map[string]*job),
	}
}

// exportOptions are the exporter params the manager itself reads.
type exportOptions struct {
	Path             string `mapstructure:"path"`
	ExportIndividual bool   `mapstructure:"export_individual"`
}

func readExportOptions(params map[string]any) (exportOptions, error) {
	var opts exportOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(params); err != nil {
		return opts, fmt.Errorf("invalid export params: %w", err)
	}
	return opts, nil
}

// Submit registers a RUNNING job and schedules it. The returned ID is valid
// for Status as soon as Submit returns. An unknown exporter or malformed
// path/export_individual params are rejected here.
func (m *Manager) Submit(req ExportRequest) (string, error) {
	if _, err := m.exporters.Exporter(req.Exporter); err != nil {
		return "", err
	}
	opts, err := readExportOptions(req.Params)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(m.baseCtx)
	j := &job{
		info: Info{
			JobID:      id,
			Dataset:    req.Dataset,
			Exporter:   req.Exporter,
			Status:     StatusRunning,
			SizeStr:    UnknownSize,
			OutputPath: opts.Path,
			StartedAt:  time.Now(),
		},
		done:   make(chan struct{}),
		cancel: cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrShutdown
	}
	m.jobs[id] = j
	m.wg.Add(1)
	m.mu.Unlock()

	m.record(j.info.clone())
	m.logger.WithJob(id).Infow("Export job submitted",
		"dataset", req.Dataset,
		"exporter", req.Exporter,
		"path", j.info.OutputPath)

	go m.run(ctx, j, req, opts)
	return id, nil
}

func (m *Manager) run(ctx context.Context, j *job, req ExportRequest, opts exportOptions) {
	defer m.wg.Done()
	defer j.cancel()

	res, err := m.execute(ctx, j.info.JobID, req, opts)
	m.finish(j, req, res, err)
}

// execute produces the export result. Panics are turned into errors so a
// failing export never brings down the process.
func (m *Manager) execute(ctx context.Context, id string, req ExportRequest, opts exportOptions) (res connector.Result, err error) {
	log := m.logger.WithJob(id).WithFields(map[string]interface{}{
		"dataset":  req.Dataset,
		"exporter": req.Exporter,
	})
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Export worker panicked", "panic", r)
			err = fmt.Errorf("export worker panicked: %v", r)
		}
	}()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return connector.Result{}, err
	}
	defer m.slots.Release(1)
	log.Debug("Export worker started")

	set := req.Precomputed
	if set.IsZero() {
		set, err = m.view(ctx, req, opts.ExportIndividual)
		if err != nil {
			return connector.Result{}, err
		}
	}

	exporter, err := m.exporters.Exporter(req.Exporter)
	if err != nil {
		return connector.Result{}, err
	}
	res = exporter.Export(ctx, set, req.Params)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, nil
}

// view snapshots the dataset and its recipe and prepares the full view. With
// export_individual the recipe runs on each file separately so every source
// file yields its own output.
func (m *Manager) view(ctx context.Context, req ExportRequest, individual bool) (relation.Set, error) {
	e, ok := m.views.Datasets().Snapshot(req.Dataset)
	if !ok {
		return relation.Set{}, fmt.Errorf("%w: %q", engine.ErrDatasetNotFound, req.Dataset)
	}
	if req.Recipe != nil {
		e.Recipe = req.Recipe.Clone()
	}
	if individual {
		return m.views.FullPerMember(ctx, e, 0)
	}
	return m.views.FullOf(ctx, e, 0)
}

func (m *Manager) finish(j *job, req ExportRequest, res connector.Result, err error) {
	log := m.logger.WithJob(j.info.JobID)

	m.mu.Lock()
	info := &j.info
	info.FinishedAt = time.Now()
	info.Duration = info.FinishedAt.Sub(info.StartedAt).Seconds()
	switch {
	case err != nil:
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = canceledMessage
		}
		info.Status = StatusFailed
		info.Error = &msg
	case res.Failed():
		msg := res.Status
		info.Status = StatusFailed
		info.Error = &msg
	default:
		info.Status = StatusCompleted
	}
	info.SizeStr = sizeOf(res, info.OutputPath)
	info.FileDetails = fileDetails(res.FileDetails)
	final := info.clone()
	m.mu.Unlock()

	close(j.done)

	if final.Status == StatusFailed {
		log.Warnw("Export job failed", "dataset", req.Dataset, "error", final.ErrorMessage(), "duration", final.Duration)
	} else {
		log.Infow("Export job completed",
			"dataset", req.Dataset,
			"size", final.SizeStr,
			"files", len(final.FileDetails),
			"duration", final.Duration)
	}
	m.record(final)
}

// sizeOf prefers the exporter's size, then the size of the output path.
func sizeOf(res connector.Result, path string) string {
	if res.SizeStr != "" {
		return res.SizeStr
	}
	if path != "" {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return humanize.Bytes(uint64(st.Size()))
		}
	}
	return UnknownSize
}

func (m *Manager) record(info Info) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Record(ctx, info); err != nil {
		m.logger.WithJob(info.JobID).Warnw("Failed to record job", "error", err)
	}
}

func (m *Manager) get(id string) (*job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	return j, ok
}

// Status returns a copy of the job's record.
func (m *Manager) Status(id string) (Info, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return Info{}, false
	}
	return j.info.clone(), true
}

// List returns every job ordered by submission time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.info.clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		if a.JobID < b.JobID {
			return -1
		}
		if a.JobID > b.JobID {
			return 1
		}
		return 0
	})
	return out
}

// Done returns a channel closed when the job finishes.
func (m *Manager) Done(id string) (<-chan struct{}, bool) {
	j, ok := m.get(id)
	if !ok {
		return nil, false
	}
	return j.done, true
}

// Wait blocks until the job finishes or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Info, error) {
	done, ok := m.Done(id)
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-done:
		info, _ := m.Status(id)
		return info, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// Cancel stops a running job, which then fails with "canceled". Canceling a
// finished job does nothing.
func (m *Manager) Cancel(id string) error {
	j, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	j.cancel()
	m.logger.WithJob(id).Info("Export job cancel requested")
	return nil
}

// Shutdown stops accepting jobs and waits for running ones. When ctx ends
// first, the remaining jobs are canceled and ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		m.stopAll()
		return nil
	case <-ctx.Done():
		m.stopAll()
		<-finished
		return ctx.Err()
	}
}
