package api

import "testing"

func TestSignalingOnlyTypes(t *testing.T) {
	pinned := []PT{Auth, AuthSuccess, AuthFailed, GuestConnected, GuestLeft, HostConnected,
		SessionClosed, Heartbeat, HeartbeatAck, Offer, Answer, IceCandidate}
	for _, pt := range pinned {
		if !pt.SignalingOnly() {
			t.Errorf("%v should be pinned to signaling", pt)
		}
		if pt.Operation() {
			t.Errorf("%v should not be an operation", pt)
		}
	}
	free := []PT{SyncRequest, SyncData, FullSync, NodeAdd, EdgesChange, MouseMove}
	for _, pt := range free {
		if pt.SignalingOnly() {
			t.Errorf("%v should ride any transport", pt)
		}
	}
}

func TestOperationTypes(t *testing.T) {
	ops := []PT{NodeAdd, NodeDelete, NodeMove, NodeUpdate, NodesChange,
		EdgeAdd, EdgeDelete, EdgesChange, VariableAdd, VariableUpdate, VariableDelete,
		MouseMove, MouseClick}
	for _, pt := range ops {
		if !pt.Operation() {
			t.Errorf("%v should be an operation", pt)
		}
	}
	if SyncData.Operation() || FullSync.Operation() {
		t.Error("snapshots are not operations")
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "{", `{"payload":{}}`, `42`, `"auth"`} {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("expected parse error for %q", raw)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	m, err := New(Auth, AuthRequest{ClientId: "c1", AssistCode: "AB12CD", Role: RoleHost})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if back.T != Auth {
		t.Errorf("expected %v, got %v", Auth, back.T)
	}
	dat := Unwrap[AuthRequest](back.Payload)
	if dat == nil || dat.AssistCode != "AB12CD" || dat.Role != RoleHost {
		t.Errorf("unexpected payload: %+v", dat)
	}
}

func TestUnwrapMalformed(t *testing.T) {
	if dat := Unwrap[AuthRequest]([]byte("{")); dat != nil {
		t.Errorf("expected nil, got %+v", dat)
	}
}
