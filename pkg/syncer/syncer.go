// Package syncer implements the state-convergence protocol of an assist
// session: full snapshots, incremental canvas operations and the echo
// suppression that keeps a remotely-applied edit from bouncing back to its
// origin.
package syncer

import (
	"errors"
	"sync"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/transport"
)

var ErrNotOperation = errors.New("syncer: not an operation message")

type Syncer struct {
	router *transport.Router
	log    *logger.Logger

	mu             sync.Mutex
	applyingRemote bool
	snapshot       api.Snapshot
	haveSnapshot   bool
}

func New(router *transport.Router, log *logger.Logger) *Syncer {
	return &Syncer{router: router, log: log}
}

// Send forwards a message over the router with no echo checks. The
// administrative path stays open even mid remote-apply.
func (s *Syncer) Send(m *api.Message) error { return s.router.Send(m) }

// SendOperation forwards a canvas operation unless a remote operation is
// being applied right now. The suppression is deliberately blunt: a
// genuinely concurrent local edit inside that window is dropped too.
func (s *Syncer) SendOperation(m *api.Message) error {
	if !m.T.Operation() {
		return ErrNotOperation
	}
	s.mu.Lock()
	suppressed := s.applyingRemote
	s.mu.Unlock()
	if suppressed {
		s.log.Debug().Msgf("suppressed echo of %v", m.T)
		return nil
	}
	return s.router.Send(m)
}

// ApplyRemote runs fn with the echo-suppression flag raised. The canvas
// layer applies inbound remote operations inside it.
func (s *Syncer) ApplyRemote(fn func()) {
	s.mu.Lock()
	s.applyingRemote = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.applyingRemote = false
		s.mu.Unlock()
	}()
	fn()
}

func (s *Syncer) Applying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyingRemote
}

// Update records the latest local canvas state so snapshot requests can be
// served from here.
func (s *Syncer) Update(snap api.Snapshot) {
	s.mu.Lock()
	s.snapshot, s.haveSnapshot = snap, true
	s.mu.Unlock()
}

// Apply overwrites the stored snapshot with a remote one. Last writer wins,
// there is no merge.
func (s *Syncer) Apply(snap api.Snapshot) {
	s.mu.Lock()
	s.snapshot, s.haveSnapshot = snap, true
	s.mu.Unlock()
}

func (s *Syncer) Current() (api.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.haveSnapshot
}

// RequestSync asks the other side for a complete snapshot. Guests issue it
// the moment the session connects.
func (s *Syncer) RequestSync() error {
	m, err := api.New(api.SyncRequest, nil)
	if err != nil {
		return err
	}
	return s.router.Send(m)
}

// PushFullSync sends the current snapshot as an unsolicited full_sync.
// Hosts push one as soon as a guest authenticates, guaranteeing initial
// convergence before any P2P upgrade completes.
func (s *Syncer) PushFullSync() error { return s.pushSnapshot(api.FullSync) }

// PushSyncData serves a snapshot in response to sync_request.
func (s *Syncer) PushSyncData() error { return s.pushSnapshot(api.SyncData) }

func (s *Syncer) pushSnapshot(t api.PT) error {
	snap, ok := s.Current()
	if !ok {
		snap = api.Snapshot{}
	}
	m, err := api.New(t, snap)
	if err != nil {
		return err
	}
	return s.router.Send(m)
}
