package store

import (
	"context"
	"time"

	"supportdesk/internal/poller"
)

// Poller is a store-driven refresher: it polls the active thread while the chat is open.
type Poller struct {
	poller      *poller.Poller
	unsubscribe func()
}

// StartPolling attaches a refresher that follows the (open && active thread) condition.
// Close the returned Poller on teardown.
func (s *Store) StartPolling(interval time.Duration) *Poller {
	p := poller.New(interval, func(ctx context.Context, threadID int64) error {
		_, err := s.LoadThread(ctx, threadID)
		return err
	}, s.logger)

	sync := func(snap Snapshot) {
		p.Sync(snap.Open && snap.ActiveThread != nil, snap.ActiveID())
	}
	unsubscribe := s.Subscribe(sync)
	sync(s.Snapshot())

	return &Poller{poller: p, unsubscribe: unsubscribe}
}

// Running returns the polled thread id and whether polling is active.
func (p *Poller) Running() (int64, bool) {
	return p.poller.Running()
}

// Close detaches from the store and stops polling. No fetch starts after Close returns.
func (p *Poller) Close() error {
	p.unsubscribe()
	return p.poller.Close()
}
