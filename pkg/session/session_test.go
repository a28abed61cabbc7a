package session

import "testing"

func TestStatusMoves(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusNone, StatusWaiting},
		{StatusNone, StatusConnecting},
		{StatusWaiting, StatusConnected},
		{StatusConnecting, StatusConnected},
		{StatusWaiting, StatusDisconnected},
		{StatusConnecting, StatusDisconnected},
		{StatusConnected, StatusDisconnected},
	}
	for _, m := range legal {
		if !m.from.canMove(m.to) {
			t.Errorf("%v -> %v should be legal", m.from, m.to)
		}
	}
}

func TestDisconnectedIsTerminal(t *testing.T) {
	for s := StatusNone; s <= StatusDisconnected; s++ {
		if StatusDisconnected.canMove(s) {
			t.Errorf("disconnected must not move to %v", s)
		}
	}
}

func TestNoShortcuts(t *testing.T) {
	illegal := []struct{ from, to Status }{
		{StatusNone, StatusConnected},
		{StatusNone, StatusDisconnected},
		{StatusConnected, StatusWaiting},
		{StatusConnected, StatusConnecting},
		{StatusWaiting, StatusConnecting},
	}
	for _, m := range illegal {
		if m.from.canMove(m.to) {
			t.Errorf("%v -> %v should be illegal", m.from, m.to)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"ab12cd", "AB12CD", false},
		{"AB12CD", "AB12CD", false},
		{" ab12cd ", "AB12CD", false},
		{"ab12c", "", true},
		{"ab12cde", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := NormalizeCode(tc.in)
		if tc.err != (err != nil) {
			t.Errorf("NormalizeCode(%q): unexpected error state %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
