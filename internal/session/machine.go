// Package session tracks an identity's lifecycle from credential to
// resolved profile. The machine owns the ordering: a credential change
// starts a resolution, and only the newest resolution is allowed to
// land. Anything slower is discarded, so a sign-out can never be
// overwritten by a fetch that was already in flight.
package session

import (
	"context"
	"log"
	"sync"

	"pupitre/access/internal/model"
)

type State int

const (
	StateUninitialized State = iota
	StateResolving
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "uninitialized"
	}
}

// Resolver fetches the profile behind a validated subject.
type Resolver interface {
	Resolve(ctx context.Context, subjectID string) (model.Profile, error)
}

// CredentialSource answers the machine's one-time startup question: is
// there a credential right now. An empty subject means no.
type CredentialSource interface {
	Current(ctx context.Context) (model.Subject, error)
}

// Snapshot is a point-in-time read of the machine. Loading is true
// while a resolution is in flight; Profile is only meaningful when
// State is StateAuthenticated.
type Snapshot struct {
	State   State
	Subject model.Subject
	Profile model.Profile
	Loading bool
}

type Machine struct {
	resolver Resolver

	mu       sync.Mutex
	state    State
	subject  model.Subject
	profile  model.Profile
	gen      uint64
	watchers map[int]chan Snapshot
	nextID   int
	closed   bool
}

func NewMachine(resolver Resolver) *Machine {
	return &Machine{
		resolver: resolver,
		state:    StateUninitialized,
		watchers: make(map[int]chan Snapshot),
	}
}

// Start queries the credential source once and settles the machine into
// its first real state. No credential or a failed lookup means
// StateAnonymous; a present credential starts a resolution.
func (m *Machine) Start(ctx context.Context, source CredentialSource) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.state = StateResolving
	m.notifyLocked()
	m.mu.Unlock()

	go func() {
		subject, err := source.Current(ctx)

		m.mu.Lock()
		if m.closed || gen != m.gen {
			m.mu.Unlock()
			return
		}
		if err != nil || subject.ID == "" {
			if err != nil {
				log.Printf("session: startup credential check failed: %v", err)
			}
			m.subject = model.Subject{}
			m.profile = model.Profile{}
			m.state = StateAnonymous
			m.notifyLocked()
			m.mu.Unlock()
			return
		}
		m.subject = subject
		m.mu.Unlock()

		m.resolve(ctx, gen, subject)
	}()
}

// SetCredential reacts to a new validated credential. It moves the
// machine to StateResolving and resolves the profile in the
// background. Each call bumps the generation, so an earlier
// still-running resolution can no longer publish its result.
func (m *Machine) SetCredential(ctx context.Context, subject model.Subject) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.subject = subject
	m.profile = model.Profile{}
	m.state = StateResolving
	m.notifyLocked()
	m.mu.Unlock()

	go m.resolve(ctx, gen, subject)
}

func (m *Machine) resolve(ctx context.Context, gen uint64, subject model.Subject) {
	profile, err := m.resolver.Resolve(ctx, subject.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		// A newer credential or a sign-out won the race.
		return
	}
	if err != nil {
		log.Printf("session: resolution failed for subject %s: %v", subject.ID, err)
		m.subject = model.Subject{}
		m.profile = model.Profile{}
		m.state = StateAnonymous
		m.notifyLocked()
		return
	}
	m.profile = profile
	m.state = StateAuthenticated
	m.notifyLocked()
}

// WatchCredentials consumes a credential event stream: each subject
// starts a fresh resolution, a subject with an empty ID is a sign-out.
// Returns when the stream closes, the context ends, or the machine is
// closed.
func (m *Machine) WatchCredentials(ctx context.Context, events <-chan model.Subject) {
	for {
		select {
		case subject, ok := <-events:
			if !ok {
				return
			}
			if subject.ID == "" {
				m.SignOut()
				continue
			}
			m.SetCredential(ctx, subject)
		case <-ctx.Done():
			return
		}
	}
}

// SignOut clears the identity synchronously. Calling it twice is
// harmless; the generation bump also invalidates any resolution still
// in flight.
func (m *Machine) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.gen++
	m.subject = model.Subject{}
	m.profile = model.Profile{}
	if m.state != StateAnonymous {
		m.state = StateAnonymous
		m.notifyLocked()
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		State:   m.state,
		Subject: m.subject,
		Profile: m.profile,
		Loading: m.state == StateResolving,
	}
}

// Subscribe returns a channel that receives a snapshot after every
// state change, plus a cancel func that releases it. Slow consumers
// drop updates rather than block the machine; the latest state is
// always available through Snapshot.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Snapshot, 8)
	m.watchers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (m *Machine) notifyLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Close stops the machine. Pending resolutions are discarded and all
// subscriber channels are closed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
}
