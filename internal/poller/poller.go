// Package poller re-fetches the active support thread on a fixed interval while the
// student chat is open. It is the student's only delivery path for manager replies.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"supportdesk/pkg/logs"
)

// DefaultInterval matches the deployed widget.
const DefaultInterval = 8 * time.Second

// FetchFunc loads one thread. Errors are logged; the next tick simply tries again.
type FetchFunc func(ctx context.Context, threadID int64) error

// Poller owns at most one polling goroutine at a time.
// ARCHITECTURAL DISCOVERY: Start/stop follow the (open && active thread) condition
// edges, so callers report the condition instead of managing timers.
type Poller struct {
	interval time.Duration
	fetch    FetchFunc
	logger   *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	threadID int64
	running  bool
	closed   bool
	wg       sync.WaitGroup
}

// New creates a stopped poller. A non-positive interval means DefaultInterval.
func New(interval time.Duration, fetch FetchFunc, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		interval: interval,
		fetch:    fetch,
		logger:   logs.OrDefault(logger),
	}
}

// Sync reports the current condition. active=true starts polling threadID (restarting
// the timer when the thread changed); active=false stops it. Sync never blocks on an
// in-flight fetch, so it is safe to call from the fetch path itself.
func (p *Poller) Sync(active bool, threadID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	if !active || threadID == 0 {
		p.stopLocked()
		return
	}
	if p.running && p.threadID == threadID {
		return
	}
	p.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.threadID = threadID
	p.running = true
	p.wg.Add(1)
	go p.loop(ctx, threadID)

	p.logger.Debug("support polling started", "thread_id", threadID, "interval", p.interval)
}

// Running returns the polled thread and whether polling is active.
func (p *Poller) Running() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threadID, p.running
}

// Close stops polling and waits for the goroutine to exit. No fetch starts after Close returns.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopLocked()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Poller) stopLocked() {
	if !p.running {
		return
	}
	p.cancel()
	p.logger.Debug("support polling stopped", "thread_id", p.threadID)
	p.cancel = nil
	p.threadID = 0
	p.running = false
}

func (p *Poller) loop(ctx context.Context, threadID int64) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A stop may race with the tick; the context decides.
			if ctx.Err() != nil {
				return
			}
			if err := p.fetch(ctx, threadID); err != nil && ctx.Err() == nil {
				p.logger.Warn("support polling fetch failed", "thread_id", threadID, "error", err)
			}
		}
	}
}
