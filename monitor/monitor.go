// Package monitor runs the poll loop that detects access-control changes.
//
// Each cycle fetches a snapshot, fingerprints it and compares the result
// with the last known fingerprint. The first successful cycle only primes
// the baseline. A differing fingerprint persists the snapshot, appends a
// change event and raises the update notification.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"f0oster/permspy/diff"
	"f0oster/permspy/metrics"
	"f0oster/permspy/notify"
	"f0oster/permspy/snapshot"
	"f0oster/permspy/versioning"
	"f0oster/permspy/warehouse"
)

const (
	DefaultInterval = 300 * time.Second
	DefaultCooldown = 60 * time.Second
)

var (
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrStopped        = errors.New("monitor stopped")
)

// State is the lifecycle state of a Monitor.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Persister stores snapshots and change events. *versioning.Store satisfies it.
type Persister interface {
	Save(ctx context.Context, snap *snapshot.Snapshot) (canonicalPath, backupPath string, err error)
	AppendEvent(ev snapshot.ChangeEvent) error
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithCooldown sets the pause after an unexpected fault.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithSinks adds receivers for change events beyond the local event log.
func WithSinks(sinks ...versioning.EventSink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, sinks...) }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

type Monitor struct {
	source   warehouse.Source
	store    Persister
	channel  notify.Channel
	logger   *slog.Logger
	interval time.Duration
	cooldown time.Duration
	sinks    []versioning.EventSink
	metrics  *metrics.Metrics
	now      func() time.Time

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu          sync.Mutex
	fingerprint diff.Digest
	primed      bool
	sections    map[string]diff.Digest
}

func New(src warehouse.Source, store Persister, ch notify.Channel, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		source:   src,
		store:    store,
		channel:  ch,
		logger:   logger,
		interval: DefaultInterval,
		cooldown: DefaultCooldown,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Fingerprint returns the last known fingerprint and whether one exists yet.
func (m *Monitor) Fingerprint() (diff.Digest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprint, m.primed
}

// Done is closed once Run has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Stop requests the loop to exit. A cycle in progress finishes first; a
// pending wait is cut short. Calling Stop before Run prevents it from starting.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.state.CompareAndSwap(int32(StateUninitialized), int32(StateStopped))
		close(m.stopCh)
	})
}

// Run executes poll cycles until Stop is called or ctx is cancelled. It
// returns nil on either. The source is closed on exit.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateUninitialized), int32(StateRunning)) {
		if m.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	defer close(m.done)
	defer m.shutdown()

	m.logger.Info("starting permissions monitoring", "interval", m.interval)
	for {
		wait := m.interval
		if _, err := m.RunCycle(ctx); err != nil {
			switch {
			case errors.Is(err, warehouse.ErrSourceUnavailable):
				m.logger.Error("error during permissions check", "error", err)
			case errors.Is(err, versioning.ErrPersistence):
				m.logger.Error("failed to persist permissions data", "error", err)
			default:
				m.logger.Error("unexpected error in monitoring loop",
					"error", err, "cooldown", m.cooldown)
				wait = m.cooldown
			}
		}

		if !m.sleep(ctx, wait) {
			return nil
		}
	}
}

// RunCycle performs a single fetch and compare. changed reports whether a
// new snapshot was persisted. The returned error wraps
// warehouse.ErrSourceUnavailable for fetch failures and
// versioning.ErrPersistence for write failures; anything else, including a
// recovered panic, is an unexpected fault.
func (m *Monitor) RunCycle(ctx context.Context) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			changed = false
			err = fmt.Errorf("panic in poll cycle: %v", r)
			m.metrics.ObserveCycle(metrics.OutcomeFault, m.now())
		}
	}()

	m.logger.Debug("fetching current permissions data")
	snap, err := m.source.Fetch(ctx)
	if err != nil {
		m.metrics.ObserveCycle(metrics.OutcomeSourceError, m.now())
		if !errors.Is(err, warehouse.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", warehouse.ErrSourceUnavailable, err)
		}
		return false, err
	}

	digest, err := diff.Fingerprint(snap)
	if err != nil {
		m.metrics.ObserveCycle(metrics.OutcomeFault, m.now())
		return false, fmt.Errorf("fingerprint snapshot: %w", err)
	}
	sections, err := diff.SectionDigests(snap)
	if err != nil {
		m.metrics.ObserveCycle(metrics.OutcomeFault, m.now())
		return false, fmt.Errorf("fingerprint sections: %w", err)
	}

	m.mu.Lock()
	prev, primed, prevSections := m.fingerprint, m.primed, m.sections
	m.mu.Unlock()

	if !primed {
		if _, _, err := m.store.Save(ctx, snap); err != nil {
			m.observeSaveError(err)
			return false, err
		}
		m.remember(digest, sections)
		m.metrics.ObserveCycle(metrics.OutcomePrimed, m.now())
		m.logger.Info("initial permissions data saved", "fingerprint", digest.String())
		return false, nil
	}

	if digest == prev {
		m.metrics.ObserveCycle(metrics.OutcomeNoChange, m.now())
		m.logger.Info("no changes detected", "fingerprint", digest.String())
		return false, nil
	}

	changedSections := diff.FindChanges(prevSections, sections)
	m.logger.Info("permissions changes detected",
		"previous", prev.String(), "current", digest.String(), "sections", changedSections)

	if _, _, err := m.store.Save(ctx, snap); err != nil {
		m.observeSaveError(err)
		return false, err
	}
	m.remember(digest, sections)

	ev := snapshot.NewChangeEvent(snap, changedSections, m.now())
	if err := m.store.AppendEvent(ev); err != nil {
		m.logger.Error("failed to append change event", "event", ev.ID, "error", err)
	}
	for _, sink := range m.sinks {
		if err := sink.RecordChange(ctx, ev); err != nil {
			m.logger.Warn("change event sink failed", "event", ev.ID, "error", err)
		}
	}

	if err := m.channel.Notify(ctx, notify.DefaultMessage); err != nil {
		m.logger.Error("failed to write update notification", "error", err)
	} else {
		m.logger.Info("update notification written")
	}

	m.metrics.ObserveCycle(metrics.OutcomeChanged, m.now())
	return true, nil
}

func (m *Monitor) observeSaveError(err error) {
	if errors.Is(err, versioning.ErrPersistence) {
		m.metrics.ObserveCycle(metrics.OutcomePersistError, m.now())
		return
	}
	m.metrics.ObserveCycle(metrics.OutcomeFault, m.now())
}

func (m *Monitor) remember(digest diff.Digest, sections map[string]diff.Digest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprint = digest
	m.sections = sections
	m.primed = true
}

// sleep waits for d and reports false if the loop should exit instead.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (m *Monitor) shutdown() {
	if err := m.source.Close(); err != nil {
		m.logger.Warn("failed to close warehouse connection", "error", err)
	}
	m.state.Store(int32(StateStopped))
	m.logger.Info("monitoring service stopped")
}
