package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/forPelevin/autodub/internal/usecase"
)

// Output is what a successful run hands back to the manager.
type Output struct {
	Path     string
	URL      string
	Warnings []string
}

// Runner executes one job. progress may be called from any goroutine.
type Runner func(ctx context.Context, j Job, progress func(step, total int, msg string)) (Output, error)

var ErrShuttingDown = errors.New("job manager is shutting down")

const subscriberBuffer = 16

// Manager queues jobs, runs at most maxJobs of them at once and fans out
// snapshots of their state to subscribers.
type Manager struct {
	store Store
	run   Runner
	sem   *semaphore.Weighted
	log   logrus.FieldLogger
	now   func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	subs   map[string][]*subscriber
}

type subscriber struct {
	ch chan Job
	// notified is set once save has sent a snapshot; the store read made by
	// Subscribe may be older than that and is then dropped.
	notified bool
}

func NewManager(store Store, run Runner, maxJobs int, log logrus.FieldLogger) *Manager {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:  store,
		run:    run,
		sem:    semaphore.NewWeighted(int64(maxJobs)),
		log:    log,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		subs:   map[string][]*subscriber{},
	}
}

// Submit stores a queued job and starts it in the background.
func (m *Manager) Submit(ctx context.Context, req Request) (Job, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Job{}, ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	j := Job{
		ID:         newID(),
		URL:        req.URL,
		Language:   req.Language,
		Options:    req.Options,
		Status:     StatusQueued,
		TotalSteps: usecase.TotalSteps,
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.Put(ctx, j); err != nil {
		m.wg.Done()
		return Job{}, fmt.Errorf("save job: %w", err)
	}
	m.log.WithFields(logrus.Fields{"job_id": j.ID, "url": j.URL, "language": j.Language}).Info("job queued")

	go func() {
		defer m.wg.Done()
		m.process(j)
	}()
	return j, nil
}

func (m *Manager) process(j Job) {
	log := m.log.WithField("job_id", j.ID)

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		m.finish(log, j, Output{}, ErrShuttingDown)
		return
	}
	defer m.sem.Release(1)

	started := m.now().UTC()
	j.Status = StatusProcessing
	j.StartedAt = &started
	j.CurrentStep = "starting"
	m.save(log, j)
	log.Info("job started")

	var mu sync.Mutex
	progress := func(step, total int, msg string) {
		mu.Lock()
		defer mu.Unlock()
		j.Progress = step
		j.TotalSteps = total
		j.CurrentStep = msg
		m.save(log, j)
	}

	out, err := m.run(m.ctx, j, progress)

	mu.Lock()
	defer mu.Unlock()
	m.finish(log, j, out, err)
}

func (m *Manager) finish(log logrus.FieldLogger, j Job, out Output, err error) {
	done := m.now().UTC()
	j.CompletedAt = &done
	if err != nil {
		j.Status = StatusFailed
		j.Error = err.Error()
		log.WithError(err).Error("job failed")
	} else {
		j.Status = StatusCompleted
		j.Progress = j.TotalSteps
		j.CurrentStep = "completed"
		j.OutputPath = out.Path
		j.OutputURL = out.URL
		j.Warnings = out.Warnings
		log.WithField("output", out.Path).Info("job completed")
	}
	m.save(log, j)
}

// save persists j and notifies subscribers. Subscribers of a finished job
// get the final snapshot and then a closed channel.
func (m *Manager) save(log logrus.FieldLogger, j Job) {
	// Store writes outlive the request that created the job.
	if err := m.store.Put(context.Background(), j); err != nil {
		log.WithError(err).Warn("save job")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs[j.ID] {
		send(sub.ch, clone(j))
		sub.notified = true
		if j.Terminal() {
			close(sub.ch)
		}
	}
	if j.Terminal() {
		delete(m.subs, j.ID)
	}
}

// send never blocks: a slow subscriber loses its oldest snapshot.
func send(ch chan Job, j Job) {
	select {
	case ch <- j:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- j:
	default:
	}
}

func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]Job, error) {
	return m.store.List(ctx)
}

// Subscribe streams snapshots of job id, starting with its current state.
// Snapshots never go back in progress. The channel is closed once the job
// reaches a terminal status. cancel releases the subscription early.
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan Job, func(), error) {
	sub := &subscriber{ch: make(chan Job, subscriberBuffer)}

	// Register before reading the store so no save between the two is lost.
	m.mu.Lock()
	m.subs[id] = append(m.subs[id], sub)
	m.mu.Unlock()

	cancel := func() { m.unsubscribe(id, sub) }

	j, err := m.store.Get(ctx, id)
	if err != nil {
		cancel()
		return nil, func() {}, err
	}
	m.mu.Lock()
	if m.subscribed(id, sub) && !sub.notified {
		send(sub.ch, j)
		if j.Terminal() {
			m.removeLocked(id, sub)
			close(sub.ch)
		}
	}
	m.mu.Unlock()
	return sub.ch, cancel, nil
}

func (m *Manager) unsubscribe(id string, sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed(id, sub) {
		m.removeLocked(id, sub)
		close(sub.ch)
	}
}

func (m *Manager) subscribed(id string, sub *subscriber) bool {
	for _, s := range m.subs[id] {
		if s == sub {
			return true
		}
	}
	return false
}

func (m *Manager) removeLocked(id string, sub *subscriber) {
	list := m.subs[id]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.subs, id)
		return
	}
	m.subs[id] = list
}

// Prune deletes finished jobs that completed more than ttl ago.
func (m *Manager) Prune(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, nil
	}
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-ttl)
	n := 0
	for _, j := range all {
		if !j.Terminal() || j.CompletedAt == nil || j.CompletedAt.After(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		m.log.WithField("count", n).Info("pruned finished jobs")
	}
	return n, nil
}

// PruneLoop calls Prune every interval until ctx is done.
func (m *Manager) PruneLoop(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.Prune(ctx, ttl); err != nil {
				m.log.WithError(err).Warn("prune jobs")
			}
		}
	}
}

// Shutdown stops accepting jobs, cancels running ones and waits for them to
// record their final state or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
