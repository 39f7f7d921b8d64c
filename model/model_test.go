package model

import "testing"

func TestParticipantValidateTrimsAndRequiresAllFields(t *testing.T) {
	p := Participant{SecretName: " alice ", Nickname: "Alice", DeviceID: "dev1"}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SecretName != "alice" {
		t.Fatalf("expected trimmed secret name, got %q", p.SecretName)
	}
}

func TestParticipantValidateRejectsEmptyField(t *testing.T) {
	p := Participant{SecretName: "alice", Nickname: "  ", DeviceID: "dev1"}
	if err := p.Validate(); err == nil {
		t.Fatal("expected an error for a blank nickname")
	}
}

func TestSessionDescriptionValidateRejectsUnknownType(t *testing.T) {
	sd := SessionDescription{Type: "bogus", SDP: "v=0"}
	if err := sd.Validate(); err == nil {
		t.Fatal("expected an error for an unknown SDP type")
	}
}

func TestSessionDescriptionValidateRejectsEmptySDP(t *testing.T) {
	sd := SessionDescription{Type: SDPTypeOffer, SDP: "   "}
	if err := sd.Validate(); err == nil {
		t.Fatal("expected an error for a blank SDP body")
	}
}

func TestSessionDescriptionValidateAcceptsWellFormed(t *testing.T) {
	sd := SessionDescription{Type: SDPTypeAnswer, SDP: "v=0"}
	if err := sd.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallValidateNormalizesAndRequiresRecipients(t *testing.T) {
	c := &Call{SharedCommunicationID: " #room1 "}
	if err := c.Validate(false); err == nil {
		t.Fatal("expected an error when recipients are required but empty")
	}
	if c.SharedCommunicationID != "room1" {
		t.Fatalf("expected normalization to run before the recipients check, got %q", c.SharedCommunicationID)
	}

	c.Recipients = []Participant{{SecretName: "bob", Nickname: "Bob", DeviceID: "dev2"}}
	if err := c.Validate(false); err != nil {
		t.Fatalf("unexpected error once a recipient is present: %v", err)
	}
}

func TestCallValidateAllowsEmptyRecipientsForGroupCalls(t *testing.T) {
	c := &Call{SharedCommunicationID: "room1"}
	if err := c.Validate(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCallValidateRejectsEmptySharedCommunicationID(t *testing.T) {
	c := &Call{SharedCommunicationID: "   "}
	if err := c.Validate(true); err == nil {
		t.Fatal("expected an error for a blank shared communication id")
	}
}

func TestCallFlagsAreMonotonic(t *testing.T) {
	c := &Call{}
	c.MarkRejected()
	c.MarkUnanswered()
	c.MarkFailed()
	if !c.Rejected || !c.Unanswered || !c.Failed {
		t.Fatalf("expected all three flags set, got %+v", c)
	}
}

func TestNormalizeConnectionIDStripsSigilAndWhitespace(t *testing.T) {
	cases := map[string]string{
		" #room1 ":   "room1",
		"room1":      "room1",
		"  #room2":   "room2",
		"#room3#":    "room3#",
	}
	for in, want := range cases {
		if got := NormalizeConnectionID(in); got != want {
			t.Fatalf("NormalizeConnectionID(%q) = %q, want %q", in, got, want)
		}
	}
}
