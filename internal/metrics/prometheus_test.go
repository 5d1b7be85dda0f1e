package metrics

import "testing"

func TestRecordCommandDoesNotPanic(t *testing.T) {
	m := New("node-metrics-1")
	m.RecordCommand("GetValue", "ok", 0.01)
	m.RecordCommand("PutValue", "error", 0.02)
}

func TestRecordRouteFailureDoesNotPanic(t *testing.T) {
	m := New("node-metrics-2")
	m.RecordRouteFailure("missing-route")
	m.RecordRouteFailure("communication")
}

func TestRecordRetryDoesNotPanic(t *testing.T) {
	m := New("node-metrics-3")
	m.RecordRetry()
	m.RecordRetry()
}

func TestUpdateGossipMembersDoesNotPanic(t *testing.T) {
	m := New("node-metrics-4")
	m.UpdateGossipMembers(3)
	m.UpdateGossipMembers(0)
}
