package session

import (
	"sync"

	"github.com/flowpilot/assist/pkg/api"
)

// Unsubscribe removes a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// listeners is an owned observer registry. Each subscription gets its own
// unsubscribe handle, emission order is unspecified.
type listeners[T any] struct {
	mu  sync.Mutex
	seq int
	m   map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) Unsubscribe {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int]func(T), 2)
	}
	id := l.seq
	l.seq++
	l.m[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.m, id)
		l.mu.Unlock()
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.m))
	for _, fn := range l.m {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// StatusEvent carries a status change with an optional human-readable
// reason (session_closed and auth_failed pass the server's message).
type StatusEvent struct {
	Status Status
	Reason string
}

// TransportEvent fires when the preferred transport flips.
type TransportEvent struct {
	Type ConnectionType
}

func (m *Manager) OnStatus(fn func(StatusEvent)) Unsubscribe { return m.statusObs.add(fn) }

func (m *Manager) OnGuest(fn func(bool)) Unsubscribe { return m.guestObs.add(fn) }

func (m *Manager) OnSnapshot(fn func(api.Snapshot)) Unsubscribe { return m.snapObs.add(fn) }

func (m *Manager) OnOperation(fn func(*api.Message)) Unsubscribe { return m.opObs.add(fn) }

func (m *Manager) OnTransport(fn func(TransportEvent)) Unsubscribe { return m.transObs.add(fn) }
