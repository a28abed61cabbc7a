package syncer

import (
	"testing"

	"github.com/flowpilot/assist/pkg/api"
	"github.com/flowpilot/assist/pkg/logger"
	"github.com/flowpilot/assist/pkg/transport"
	"github.com/goccy/go-json"
)

type recordingPath struct {
	sent []*api.Message
}

func (r *recordingPath) Alive() bool               { return true }
func (r *recordingPath) Send(m *api.Message) error { r.sent = append(r.sent, m); return nil }

func newTestSyncer() (*Syncer, *recordingPath) {
	path := &recordingPath{}
	router := transport.NewRouter(transport.Route{Kind: transport.KindRelay, Transport: path})
	return New(router, logger.Default()), path
}

func op(t *testing.T, pt api.PT) *api.Message {
	t.Helper()
	m, err := api.New(pt, map[string]string{"id": "n1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return m
}

func TestEchoSuppression(t *testing.T) {
	s, path := newTestSyncer()
	s.ApplyRemote(func() {
		if err := s.SendOperation(op(t, api.NodeAdd)); err != nil {
			t.Fatalf("suppressed send should be a silent no-op, got %v", err)
		}
		if err := s.SendOperation(op(t, api.MouseMove)); err != nil {
			t.Fatalf("suppressed send should be a silent no-op, got %v", err)
		}
	})
	if len(path.sent) != 0 {
		t.Errorf("expected zero outbound messages during remote apply, got %d", len(path.sent))
	}
	if err := s.SendOperation(op(t, api.NodeAdd)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(path.sent) != 1 {
		t.Errorf("expected the post-apply operation to go out, got %d", len(path.sent))
	}
}

// The plain send path carries signaling and administrative messages and is
// not subject to the suppression flag.
func TestPlainSendUnaffectedByFlag(t *testing.T) {
	s, path := newTestSyncer()
	s.ApplyRemote(func() {
		m, _ := api.New(api.SyncRequest, nil)
		if err := s.Send(m); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
	if len(path.sent) != 1 {
		t.Errorf("expected 1 outbound message, got %d", len(path.sent))
	}
}

func TestSendOperationRejectsNonOperations(t *testing.T) {
	s, _ := newTestSyncer()
	m, _ := api.New(api.Offer, nil)
	if err := s.SendOperation(m); err != ErrNotOperation {
		t.Errorf("expected ErrNotOperation, got %v", err)
	}
}

func TestApplyingFlagScope(t *testing.T) {
	s, _ := newTestSyncer()
	if s.Applying() {
		t.Error("flag should start lowered")
	}
	s.ApplyRemote(func() {
		if !s.Applying() {
			t.Error("flag should be raised inside the apply window")
		}
	})
	if s.Applying() {
		t.Error("flag should drop after the apply window")
	}
}

func TestSnapshotLastWriterWins(t *testing.T) {
	s, _ := newTestSyncer()
	s.Update(api.Snapshot{WorkflowName: "local", Nodes: json.RawMessage(`[1]`)})
	s.Apply(api.Snapshot{WorkflowName: "remote", Nodes: json.RawMessage(`[2]`)})
	snap, ok := s.Current()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.WorkflowName != "remote" || string(snap.Nodes) != `[2]` {
		t.Errorf("remote snapshot should overwrite, got %+v", snap)
	}
	s.Apply(api.Snapshot{WorkflowName: "remote2"})
	if snap, _ = s.Current(); snap.WorkflowName != "remote2" {
		t.Errorf("re-sent snapshot should overwrite again, got %q", snap.WorkflowName)
	}
}

func TestConvergenceMessages(t *testing.T) {
	s, path := newTestSyncer()
	if err := s.RequestSync(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s.Update(api.Snapshot{WorkflowName: "wf"})
	if err := s.PushFullSync(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.PushSyncData(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []api.PT{api.SyncRequest, api.FullSync, api.SyncData}
	if len(path.sent) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(path.sent))
	}
	for i, pt := range want {
		if path.sent[i].T != pt {
			t.Errorf("message %d: expected %v, got %v", i, pt, path.sent[i].T)
		}
	}
	snap := api.Unwrap[api.Snapshot](path.sent[1].Payload)
	if snap == nil || snap.WorkflowName != "wf" {
		t.Errorf("full_sync should carry the current snapshot, got %+v", snap)
	}
}
