package conn

import "testing"

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDisconnected, StatusConnecting, true},
		{StatusDisconnected, StatusOffline, true},
		{StatusDisconnected, StatusConnected, false},
		{StatusConnecting, StatusConnected, true},
		{StatusConnecting, StatusDisconnected, true},
		{StatusConnecting, StatusOffline, true},
		{StatusConnected, StatusDisconnected, true},
		{StatusConnected, StatusOffline, true},
		{StatusConnected, StatusConnecting, false},
		{StatusOffline, StatusConnecting, true},
		{StatusOffline, StatusDisconnected, true},
		{StatusOffline, StatusConnected, false},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
