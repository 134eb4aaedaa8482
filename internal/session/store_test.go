package session

import "testing"

func TestStorePutGetDelete(t *testing.T) {
	st := NewStore()
	s := NewSession("stream-1", "call-1", DirectionInbound, Peer{PhoneNumber: "+4915112345678", Role: RoleCustomer})

	if err := st.Put(s); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, ok := st.Get("stream-1")
	if !ok {
		t.Fatalf("Get() did not find session")
	}
	if got.StreamID != "stream-1" {
		t.Errorf("got StreamID %q, want stream-1", got.StreamID)
	}

	if err := st.Put(s); err == nil {
		t.Errorf("expected error registering duplicate stream id")
	}

	st.Delete("stream-1")
	if _, ok := st.Get("stream-1"); ok {
		t.Errorf("expected session to be removed")
	}
}

func TestStoreLinkChild(t *testing.T) {
	st := NewStore()
	parent := NewSession("parent-1", "call-1", DirectionInbound, Peer{Role: RoleTeammate})
	child := NewSession("child-1", "call-2", DirectionOutbound, Peer{Role: RoleCustomer})

	if err := st.Put(parent); err != nil {
		t.Fatalf("Put(parent) failed: %v", err)
	}
	if err := st.Put(child); err != nil {
		t.Fatalf("Put(child) failed: %v", err)
	}

	if err := st.LinkChild("parent-1", "child-1"); err != nil {
		t.Fatalf("LinkChild() failed: %v", err)
	}

	if parent.ChildStreamID != "child-1" {
		t.Errorf("parent.ChildStreamID = %q, want child-1", parent.ChildStreamID)
	}
	if child.ParentStreamID != "parent-1" {
		t.Errorf("child.ParentStreamID = %q, want parent-1", child.ParentStreamID)
	}
}

func TestSessionAppendTurnTracksLastAssistant(t *testing.T) {
	s := NewSession("s1", "c1", DirectionInbound, Peer{Role: RoleCustomer})

	s.AppendTurn(Turn{Role: "user", Content: "hello"})
	s.AppendTurn(Turn{Role: "assistant", Content: "hi there"})

	if got := s.LastAssistantText(); got != "hi there" {
		t.Errorf("LastAssistantText() = %q, want %q", got, "hi there")
	}
	if s.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", s.TurnCount)
	}
}
