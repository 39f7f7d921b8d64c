package group

import (
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/pcadapter"
	"github.com/pqsrtc/sdk-go/rtcconfig"
	"github.com/pqsrtc/sdk-go/taskqueue"
	"github.com/pqsrtc/sdk-go/transport"
	"github.com/pqsrtc/sdk-go/wire"
)

// fakeAdapter is a minimal pcadapter.Adapter double: enough for Join/offer
// plumbing without opening a real peer connection.
type fakeAdapter struct {
	localDescription model.SessionDescription
	closed           bool
	cryptors         []pcadapter.Cryptor
}

func (a *fakeAdapter) CreateOffer(bool) (model.SessionDescription, error) {
	return model.SessionDescription{Type: model.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"}, nil
}
func (a *fakeAdapter) CreateAnswer() (model.SessionDescription, error) {
	return model.SessionDescription{Type: model.SDPTypeAnswer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"}, nil
}
func (a *fakeAdapter) SetLocalDescription(sd model.SessionDescription) error {
	a.localDescription = sd
	return nil
}
func (a *fakeAdapter) SetRemoteDescription(model.SessionDescription) error { return nil }
func (a *fakeAdapter) AddICECandidate(model.IceCandidate) error           { return nil }
func (a *fakeAdapter) OnICECandidate(func(model.IceCandidate))            {}
func (a *fakeAdapter) OnConnectionStateChange(func(string))               {}
func (a *fakeAdapter) OnTrack(func(string, []string, string))            {}
func (a *fakeAdapter) OnDataChannelMessage(func([]byte))                  {}
func (a *fakeAdapter) Close() error                                       { a.closed = true; return nil }

func (a *fakeAdapter) CreateFrameCryptor(direction pcadapter.CryptorDirection, participantID string, keyIndex int, keys pcadapter.KeyProvider, trackID string) (pcadapter.Cryptor, error) {
	c := &fakeCryptor{enabled: true}
	a.cryptors = append(a.cryptors, c)
	return c, nil
}
func (a *fakeAdapter) AddTrack(track webrtc.TrackLocal, streamIDs []string) (pcadapter.Sender, error) {
	return nil, nil
}
func (a *fakeAdapter) Senders() []pcadapter.Sender           { return nil }
func (a *fakeAdapter) Receivers() []pcadapter.Receiver       { return nil }
func (a *fakeAdapter) Transceivers() []pcadapter.Transceiver { return nil }
func (a *fakeAdapter) Statistics() (pcadapter.StatReport, error) {
	return pcadapter.StatReport{}, nil
}

var _ pcadapter.Adapter = (*fakeAdapter)(nil)

// fakeCryptor is a no-op pcadapter.Cryptor double.
type fakeCryptor struct {
	mu      sync.Mutex
	enabled bool
	onState func(pcadapter.CryptorState)
}

func (c *fakeCryptor) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}
func (c *fakeCryptor) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
func (c *fakeCryptor) OnStateChange(fn func(pcadapter.CryptorState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

var _ pcadapter.Cryptor = (*fakeCryptor)(nil)

// fakeTransport records every send so tests can assert on the facade's
// outbound behavior without a real signaling channel.
type fakeTransport struct {
	offersSent       int
	sfuMessages      []taskqueue.RatchetMessagePacket
	negotiatedGroups int
}

func (f *fakeTransport) SendStartCall(*model.Call) error            { return nil }
func (f *fakeTransport) SendCallAnswered(*model.Call) error         { return nil }
func (f *fakeTransport) SendCallAnsweredAuxDevice(*model.Call) error { return nil }
func (f *fakeTransport) SendOffer(*model.Call) error                { f.offersSent++; return nil }
func (f *fakeTransport) SendAnswer(*model.Call, []byte) error       { return nil }
func (f *fakeTransport) SendCandidate(model.IceCandidate, *model.Call) error { return nil }
func (f *fakeTransport) SendOneToOneMessage(taskqueue.RatchetMessagePacket, model.Participant) error {
	return nil
}
func (f *fakeTransport) SendSfuMessage(packet taskqueue.RatchetMessagePacket, _ *model.Call) error {
	f.sfuMessages = append(f.sfuMessages, packet)
	return nil
}
func (f *fakeTransport) SendCiphertext(model.Participant, string, []byte, *model.Call) error {
	return nil
}
func (f *fakeTransport) DidEnd(*model.Call, string) error { return nil }
func (f *fakeTransport) NegotiateGroupIdentity(*model.Call, string) error {
	f.negotiatedGroups++
	return nil
}

var _ transport.Transport = (*fakeTransport)(nil)

func newTestFacade(tport *fakeTransport) *GroupCallFacade {
	cfg := rtcconfig.RTCSessionConfig{FrameEncryptionKeyMode: rtcconfig.FrameKeyModePerParticipant}
	return New(cfg, "room1", "alice", tport, func(pcadapter.Config) (pcadapter.Adapter, error) {
		return &fakeAdapter{}, nil
	}, nil)
}

func TestJoinSendsOfferAndNegotiatesGroupIdentity(t *testing.T) {
	tport := &fakeTransport{}
	g := newTestFacade(tport)

	if err := g.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if g.Phase() != PhaseJoining {
		t.Fatalf("expected PhaseJoining after join, got %s", g.Phase())
	}
	if tport.offersSent != 1 {
		t.Fatalf("expected exactly one offer sent, got %d", tport.offersSent)
	}
	if tport.negotiatedGroups != 1 {
		t.Fatalf("expected group identity negotiated once, got %d", tport.negotiatedGroups)
	}
}

func TestUpdateParticipantsReplacesRoster(t *testing.T) {
	g := newTestFacade(&fakeTransport{})
	g.UpdateParticipants([]model.GroupParticipant{{ID: "bob"}, {ID: "carol"}})

	if len(g.roster) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(g.roster))
	}
	g.UpdateParticipants([]model.GroupParticipant{{ID: "dave"}})
	if len(g.roster) != 1 {
		t.Fatalf("expected roster replaced wholesale, got %d entries", len(g.roster))
	}
	if _, ok := g.roster["dave"]; !ok {
		t.Fatal("expected dave present after replace")
	}
}

func TestSetDemuxIDUpdatesOneEntry(t *testing.T) {
	g := newTestFacade(&fakeTransport{})
	g.UpdateParticipants([]model.GroupParticipant{{ID: "bob"}})

	var demux uint32 = 7
	g.SetDemuxID("bob", &demux)

	if got := g.roster["bob"].DemuxID; got == nil || *got != 7 {
		t.Fatalf("expected bob's demux id updated to 7, got %v", got)
	}
}

func TestRotateSenderKeyDistributesToEveryOtherParticipant(t *testing.T) {
	tport := &fakeTransport{}
	g := newTestFacade(tport)

	// pairwiseRatchetFor only distributes to participants whose roster entry
	// carries a real signaling public key, so give bob and carol one each.
	bobLocal, err := newTestFacade(&fakeTransport{}).signalingKeys.GenerateSenderIdentity("room1", "bob")
	if err != nil {
		t.Fatalf("generate bob identity: %v", err)
	}
	carolLocal, err := newTestFacade(&fakeTransport{}).signalingKeys.GenerateSenderIdentity("room1", "carol")
	if err != nil {
		t.Fatalf("generate carol identity: %v", err)
	}
	g.UpdateParticipants([]model.GroupParticipant{
		{ID: "alice"},
		{ID: "bob", SignalingIdentityProps: &model.IdentityProps{LongTermPublic: bobLocal.LocalKeys.LongTermPublic[:]}},
		{ID: "carol", SignalingIdentityProps: &model.IdentityProps{LongTermPublic: carolLocal.LocalKeys.LongTermPublic[:]}},
	})

	if err := g.RotateSenderKey(); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(tport.sfuMessages) != 2 {
		t.Fatalf("expected 2 sender-key messages (bob, carol), got %d", len(tport.sfuMessages))
	}
	for _, pkt := range tport.sfuMessages {
		if pkt.Flag != taskqueue.FlagSenderKeyRotation {
			t.Fatalf("expected FlagSenderKeyRotation, got %s", pkt.Flag)
		}
	}
	if _, ok := g.frameKeyProvider.ExportKey("alice", g.localSenderKeyIndex); !ok {
		t.Fatal("expected the local sender key to be installed for self")
	}
}

func TestSenderKeyRoundTripsThroughInboundHandler(t *testing.T) {
	bob := newTestFacade(&fakeTransport{})
	bob.localParticipantID = "bob"

	// bob's own Join would normally generate and advertise this; reach in
	// directly so alice's roster entry for bob carries bob's real public
	// key, the DH peer pairwiseRatchetFor needs.
	bobLocal, err := bob.signalingKeys.GenerateSenderIdentity(bob.roomID, "bob")
	if err != nil {
		t.Fatalf("generate bob identity: %v", err)
	}

	alice := newTestFacade(&fakeTransport{})
	alice.UpdateParticipants([]model.GroupParticipant{
		{ID: "alice"},
		{ID: "bob", SignalingIdentityProps: &model.IdentityProps{LongTermPublic: bobLocal.LocalKeys.LongTermPublic[:]}},
	})

	if err := alice.RotateSenderKey(); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Decode the wire envelope the same way a transport implementation
	// would before calling HandleControlMessage.
	raw := mustFindSenderKeyPacket(t, alice)
	msg, err := wire.DecodeSenderKeyMessage(raw)
	if err != nil {
		t.Fatalf("decode sender key message: %v", err)
	}

	if err := bob.handleInboundSenderKey(msg); err != nil {
		t.Fatalf("handle inbound sender key: %v", err)
	}

	aliceKey, ok := alice.frameKeyProvider.ExportKey("alice", alice.localSenderKeyIndex)
	if !ok {
		t.Fatal("expected alice's own key to be exported")
	}
	bobSideKey, ok := bob.frameKeyProvider.ExportKey("alice", alice.localSenderKeyIndex)
	if !ok {
		t.Fatal("expected bob to have installed alice's distributed sender key")
	}
	if aliceKey.Key != bobSideKey.Key {
		t.Fatal("expected the key bob installed for alice to match the key alice rotated in")
	}
}

func mustFindSenderKeyPacket(t *testing.T, g *GroupCallFacade) []byte {
	t.Helper()
	tport, ok := g.tport.(*fakeTransport)
	if !ok || len(tport.sfuMessages) == 0 {
		t.Fatal("expected a sender-key packet to have been sent")
	}
	return tport.sfuMessages[len(tport.sfuMessages)-1].RatchetMessage
}
