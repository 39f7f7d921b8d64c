package gateway

import (
	"testing"
	"time"

	"github.com/pqsrtc/sdk-go/transport"
	"github.com/pqsrtc/sdk-go/wire"
)

func TestRouterDispatchesRegisteredKind(t *testing.T) {
	r := NewRouter()
	var got transport.GroupCallControlMessage
	var gotParticipant string
	r.Handle(transport.ControlJoin, func(participantID string, _ *Hub, msg transport.GroupCallControlMessage) {
		gotParticipant = participantID
		got = msg
	})

	handled := r.dispatch("alice", nil, transport.GroupCallControlMessage{Kind: transport.ControlJoin, RoomID: "room1"})
	if !handled {
		t.Fatal("expected the registered handler to be invoked")
	}
	if gotParticipant != "alice" || got.RoomID != "room1" {
		t.Fatalf("unexpected dispatch: participant=%q msg=%+v", gotParticipant, got)
	}
}

func TestRouterDispatchReturnsFalseForUnknownKind(t *testing.T) {
	r := NewRouter()
	if r.dispatch("alice", nil, transport.GroupCallControlMessage{Kind: transport.ControlLeave}) {
		t.Fatal("expected dispatch to report no handler for an unregistered kind")
	}
}

func newTestClient(roomID, participantID string) *Client {
	return &Client{Send: make(chan []byte, 4), RoomID: roomID, ParticipantID: participantID}
}

func TestBroadcastControlMessageExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	alice := newTestClient("room1", "alice")
	bob := newTestClient("room1", "bob")
	hub.Register <- alice
	hub.Register <- bob
	time.Sleep(10 * time.Millisecond)

	if err := hub.BroadcastControlMessage("room1", "alice", transport.GroupCallControlMessage{Kind: transport.ControlRosterUpdate, RoomID: "room1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case payload := <-bob.Send:
		decoded, err := wire.DecodeControlMessage(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Kind != transport.ControlRosterUpdate {
			t.Fatalf("unexpected kind: %v", decoded.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected bob to receive the broadcast payload")
	}

	select {
	case <-alice.Send:
		t.Fatal("expected the broadcasting participant to be excluded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendToTargetsOneParticipant(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	alice := newTestClient("room1", "alice")
	bob := newTestClient("room1", "bob")
	hub.Register <- alice
	hub.Register <- bob
	time.Sleep(10 * time.Millisecond)

	if err := hub.SendTo("room1", "bob", transport.GroupCallControlMessage{Kind: transport.ControlOffer, RoomID: "room1"}); err != nil {
		t.Fatalf("send to: %v", err)
	}

	select {
	case <-bob.Send:
	case <-time.After(time.Second):
		t.Fatal("expected bob to receive the targeted message")
	}
	select {
	case <-alice.Send:
		t.Fatal("expected alice to receive nothing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterRemovesClientAndEmptiesRoom(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	alice := newTestClient("room1", "alice")
	hub.Register <- alice
	time.Sleep(10 * time.Millisecond)

	hub.Unregister <- alice
	time.Sleep(10 * time.Millisecond)

	hub.mu.Lock()
	_, roomExists := hub.Rooms["room1"]
	hub.mu.Unlock()
	if roomExists {
		t.Fatal("expected the room to be removed once its last client unregisters")
	}
}
