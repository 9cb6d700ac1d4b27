package session

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// UnreadSource reports the pending notification count for a subject.
type UnreadSource interface {
	UnreadCount(ctx context.Context, subjectID string) (int64, error)
}

// Poller refreshes the unread count on a fixed interval while the
// machine is authenticated. A failed poll keeps the previous count;
// the next tick tries again.
type Poller struct {
	machine  *Machine
	source   UnreadSource
	interval time.Duration

	count  atomic.Int64
	stop   chan struct{}
	stopMu sync.Mutex
	done   sync.WaitGroup
}

func NewPoller(machine *Machine, source UnreadSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		machine:  machine,
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.done.Add(1)
	go func() {
		defer p.done.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		p.poll(ctx)
		for {
			select {
			case <-ticker.C:
				p.poll(ctx)
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Poller) poll(ctx context.Context) {
	snap := p.machine.Snapshot()
	if snap.State != StateAuthenticated {
		p.count.Store(0)
		return
	}
	n, err := p.source.UnreadCount(ctx, snap.Subject.ID)
	if err != nil {
		log.Printf("session: unread poll failed for subject %s: %v", snap.Subject.ID, err)
		return
	}
	p.count.Store(n)
}

// Count returns the most recently polled unread count.
func (p *Poller) Count() int64 {
	return p.count.Load()
}

func (p *Poller) Stop() {
	p.stopMu.Lock()
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	p.stopMu.Unlock()
	p.done.Wait()
}
