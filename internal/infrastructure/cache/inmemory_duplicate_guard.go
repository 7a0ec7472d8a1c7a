package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/meterline/backend/internal/domain/account"
)

// InMemoryDuplicateGuard implements account.DuplicateGuard with a bounded,
// time-ordered map of last accepted attempts. State is per process, so a
// fleet of instances only gets per-instance suppression.
type InMemoryDuplicateGuard struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	retention  time.Duration
	entries    map[string]*list.Element
	order      *list.List // oldest accepted attempt at the front
	clock      func() time.Time
	stopChan   chan struct{}
	closeOnce  sync.Once
}

type guardEntry struct {
	accountID  string
	acceptedAt time.Time
}

// InMemoryDuplicateGuardConfig configures the in-memory guard
type InMemoryDuplicateGuardConfig struct {
	Window     time.Duration
	MaxEntries int // 0 means unbounded
	GCMultiple int // entries older than GCMultiple*Window are collected
	// Clock drives collection and must be the time source callers pass to
	// Admit. Defaults to time.Now.
	Clock func() time.Time
}

// NewInMemoryDuplicateGuard creates a guard and starts its collection loop
func NewInMemoryDuplicateGuard(cfg InMemoryDuplicateGuardConfig) *InMemoryDuplicateGuard {
	if cfg.GCMultiple < 1 {
		cfg.GCMultiple = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	g := &InMemoryDuplicateGuard{
		window:     cfg.Window,
		maxEntries: cfg.MaxEntries,
		retention:  time.Duration(cfg.GCMultiple) * cfg.Window,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		clock:      cfg.Clock,
		stopChan:   make(chan struct{}),
	}

	if cfg.Window > 0 {
		go g.collectLoop()
	}

	return g
}

// Admit reports whether an attempt at now is far enough from the last accepted one
func (g *InMemoryDuplicateGuard) Admit(_ context.Context, accountID string, now time.Time) (bool, error) {
	if g.window <= 0 {
		return true, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if el, ok := g.entries[accountID]; ok {
		entry := el.Value.(*guardEntry)
		if now.Sub(entry.acceptedAt) < g.window {
			return false, nil
		}
		entry.acceptedAt = now
		g.order.MoveToBack(el)
		return true, nil
	}

	if g.maxEntries > 0 && g.order.Len() >= g.maxEntries {
		g.removeElement(g.order.Front())
	}
	g.entries[accountID] = g.order.PushBack(&guardEntry{accountID: accountID, acceptedAt: now})
	return true, nil
}

// Window returns the suppression window
func (g *InMemoryDuplicateGuard) Window() time.Duration {
	return g.window
}

// Len returns the number of tracked accounts
func (g *InMemoryDuplicateGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

// Close stops the collection loop
func (g *InMemoryDuplicateGuard) Close() error {
	g.closeOnce.Do(func() {
		close(g.stopChan)
	})
	return nil
}

func (g *InMemoryDuplicateGuard) collectLoop() {
	interval := g.window
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.collectExpired()
		case <-g.stopChan:
			return
		}
	}
}

// collectExpired runs one collection pass against the guard's clock
func (g *InMemoryDuplicateGuard) collectExpired() int {
	return g.collect(g.clock())
}

// collect drops entries accepted before now minus the retention period
func (g *InMemoryDuplicateGuard) collect(now time.Time) int {
	cutoff := now.Add(-g.retention)

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for el := g.order.Front(); el != nil; {
		entry := el.Value.(*guardEntry)
		if !entry.acceptedAt.Before(cutoff) {
			break
		}
		next := el.Next()
		g.removeElement(el)
		removed++
		el = next
	}
	return removed
}

func (g *InMemoryDuplicateGuard) removeElement(el *list.Element) {
	entry := g.order.Remove(el).(*guardEntry)
	delete(g.entries, entry.accountID)
}

// Ensure InMemoryDuplicateGuard implements DuplicateGuard
var _ account.DuplicateGuard = (*InMemoryDuplicateGuard)(nil)
