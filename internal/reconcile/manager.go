package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"credlock/agreement-portal/agreement-portal-backend/internal/agreement"
	"credlock/agreement-portal/agreement-portal-backend/internal/ledger"
	"credlock/agreement-portal/agreement-portal-backend/internal/records"
)

// Manager owns one reconciliation loop per agreement reference. Loops are
// independent of each other: no cross-reference shared mutable state.
type Manager struct {
	ledger    ledger.Client
	records   records.Store
	audit     AuditSink
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration

	mu    sync.Mutex
	loops map[string]*Loop
}

// NewManager creates a loop registry. audit and publisher may be nil.
func NewManager(lc ledger.Client, rs records.Store, sink AuditSink, pub Publisher, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		ledger:    lc,
		records:   rs,
		audit:     sink,
		publisher: pub,
		logger:    logger,
		interval:  interval,
		loops:     make(map[string]*Loop),
	}
}

// Ensure returns the loop for a reference, starting one if needed.
func (m *Manager) Ensure(ref string) *Loop {
	m.mu.Lock()
	defer m.mu.Unlock()

	if loop, ok := m.loops[ref]; ok {
		return loop
	}

	loop := NewLoop(ref, m.ledger, m.records, m.audit, m.publisher, m.interval, m.logger)
	loop.Start(context.Background())
	m.loops[ref] = loop

	m.logger.Info("started reconciliation loop", zap.String("reference", ref))
	return loop
}

// Get returns the loop for a reference without starting one.
func (m *Manager) Get(ref string) (*Loop, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loop, ok := m.loops[ref]
	return loop, ok
}

// View returns the current reconciled view for a reference, starting its
// loop and waiting for the first tick when necessary.
func (m *Manager) View(ctx context.Context, ref string) (agreement.ReconciledView, error) {
	loop := m.Ensure(ref)
	if err := loop.WaitReady(ctx); err != nil {
		return agreement.ReconciledView{}, err
	}
	view, ok := loop.View()
	if !ok {
		// First tick produced nothing: the ledger was unreachable and no
		// off-chain record exists either.
		return agreement.ReconciledView{}, fmt.Errorf("%w: no view available", agreement.ErrLedgerUnavailable)
	}
	return view, nil
}

// Refresh triggers an immediate tick for a reference, starting its loop
// when absent.
func (m *Manager) Refresh(ref string) {
	m.Ensure(ref).Refresh()
}

// RefreshAll triggers an immediate tick on every running loop. Used by the
// due-date rollover job so due/future states flip without waiting.
func (m *Manager) RefreshAll() {
	m.mu.Lock()
	loops := make([]*Loop, 0, len(m.loops))
	for _, loop := range m.loops {
		loops = append(loops, loop)
	}
	m.mu.Unlock()

	for _, loop := range loops {
		loop.Refresh()
	}
}

// Stop disposes the loop for one reference.
func (m *Manager) Stop(ref string) {
	m.mu.Lock()
	loop, ok := m.loops[ref]
	if ok {
		delete(m.loops, ref)
	}
	m.mu.Unlock()

	if ok {
		loop.Stop()
		m.logger.Info("stopped reconciliation loop", zap.String("reference", ref))
	}
}

// StopAll disposes every loop. Called on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	loops := m.loops
	m.loops = make(map[string]*Loop)
	m.mu.Unlock()

	for ref, loop := range loops {
		loop.Stop()
		m.logger.Info("stopped reconciliation loop", zap.String("reference", ref))
	}
}

// LoopCount reports the number of running loops.
func (m *Manager) LoopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loops)
}
