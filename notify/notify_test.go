package notify

import (
	"testing"

	"github.com/pqsrtc/sdk-go/callstate"
	"github.com/pqsrtc/sdk-go/candidate"
	"github.com/pqsrtc/sdk-go/model"
)

type fakeSink struct {
	activeConnection  string
	connected         []string
	failed            []string
	generatedReady    []bool
	generatedIDs      []uint64
	receiverAdded     []string
	streamAdded       []string
	dataChannelMsgs   [][]byte
	resolvedStreamIDs []string
}

func (s *fakeSink) ResolveParticipant(streamIDs []string, _ string) string {
	s.resolvedStreamIDs = streamIDs
	if len(streamIDs) == 0 {
		return ""
	}
	return streamIDs[0]
}

func (s *fakeSink) IsActiveConnection(connectionID string) bool {
	return connectionID == s.activeConnection
}

func (s *fakeSink) OnConnected(connectionID string) { s.connected = append(s.connected, connectionID) }
func (s *fakeSink) OnFailed(connectionID, _ string)  { s.failed = append(s.failed, connectionID) }
func (s *fakeSink) OnGeneratedCandidate(_ string, c model.IceCandidate, readyForCandidates bool) {
	s.generatedReady = append(s.generatedReady, readyForCandidates)
	s.generatedIDs = append(s.generatedIDs, c.ID)
}
func (s *fakeSink) OnReceiverAdded(_, participantID, _, _ string) {
	s.receiverAdded = append(s.receiverAdded, participantID)
}
func (s *fakeSink) OnStreamAdded(connectionID string, _ []string) {
	s.streamAdded = append(s.streamAdded, connectionID)
}
func (s *fakeSink) OnDataChannelMessage(_ string, data []byte) {
	s.dataChannelMsgs = append(s.dataChannelMsgs, data)
}

var _ Sink = (*fakeSink)(nil)

func TestConsumeIgnoresEventsForInactiveConnection(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	c := New(sink, candidate.NewStore(), nil, nil)

	c.Consume(c.Generation(), Event{Kind: EventICEConnectionState, ConnectionID: "conn2", ICEState: "connected"})
	if len(sink.connected) != 0 {
		t.Fatal("expected event for a non-active connection to be dropped")
	}
}

func TestConsumeDropsStaleGeneration(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	c := New(sink, candidate.NewStore(), nil, nil)

	staleGen := c.Generation()
	c.Bump()
	c.Consume(staleGen, Event{Kind: EventICEConnectionState, ConnectionID: "conn1", ICEState: "connected"})
	if len(sink.connected) != 0 {
		t.Fatal("expected a stale-generation event to be dropped")
	}
}

func TestICEConnectedDrivesStateMachineWhenReachable(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	m := callstate.New()
	_ = m.Transition(callstate.State{Phase: callstate.PhaseReady})
	_ = m.Transition(callstate.State{Phase: callstate.PhaseConnecting})

	c := New(sink, candidate.NewStore(), func(string) *callstate.Machine { return m }, nil)
	c.Consume(c.Generation(), Event{Kind: EventICEConnectionState, ConnectionID: "conn1", ICEState: "connected"})

	if len(sink.connected) != 1 || sink.connected[0] != "conn1" {
		t.Fatalf("expected OnConnected called once for conn1, got %v", sink.connected)
	}
	if got := m.Current().Phase; got != callstate.PhaseConnected {
		t.Fatalf("expected state machine to reach PhaseConnected, got %s", got)
	}
}

func TestICEFailedRemovesBufferedCandidatesAndNotifiesFailed(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	candidates := candidate.NewStore()
	candidates.Feed("conn1", model.IceCandidate{SDP: "a"})

	c := New(sink, candidates, nil, nil)
	c.Consume(c.Generation(), Event{Kind: EventICEConnectionState, ConnectionID: "conn1", ICEState: "failed"})

	if len(sink.failed) != 1 {
		t.Fatalf("expected OnFailed called once, got %v", sink.failed)
	}
	if got := candidates.Drain("conn1"); len(got) != 0 {
		t.Fatalf("expected buffered candidates removed on failure, got %+v", got)
	}
}

func TestGeneratedCandidateGetsMonotonicIDAndQueueSignal(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	c := New(sink, candidate.NewStore(), nil, nil)

	c.Consume(c.Generation(), Event{Kind: EventGeneratedICECandidate, ConnectionID: "conn1", Candidate: model.IceCandidate{SDP: "x"}})
	c.Consume(c.Generation(), Event{Kind: EventGeneratedICECandidate, ConnectionID: "conn1", Candidate: model.IceCandidate{SDP: "y"}})

	if len(sink.generatedReady) != 2 {
		t.Fatalf("expected two generated-candidate callbacks, got %d", len(sink.generatedReady))
	}
	if sink.generatedIDs[0] == 0 || sink.generatedIDs[1] <= sink.generatedIDs[0] {
		t.Fatalf("expected nonzero, increasing candidate ids, got %v", sink.generatedIDs)
	}
	if sink.generatedReady[0] || sink.generatedReady[1] {
		t.Fatal("expected readyForCandidates false before SetReadyForCandidates is called")
	}
}

func TestDidAddReceiverResolvesParticipantThenNotifies(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	c := New(sink, candidate.NewStore(), nil, nil)

	c.Consume(c.Generation(), Event{
		Kind:         EventDidAddReceiver,
		ConnectionID: "conn1",
		StreamIDs:    []string{"alice"},
		TrackID:      "track1",
		TrackKind:    "video",
	})

	if len(sink.receiverAdded) != 1 || sink.receiverAdded[0] != "alice" {
		t.Fatalf("expected receiver added for resolved participant alice, got %v", sink.receiverAdded)
	}
}

func TestDataChannelMessageIsForwarded(t *testing.T) {
	sink := &fakeSink{activeConnection: "conn1"}
	c := New(sink, candidate.NewStore(), nil, nil)

	c.Consume(c.Generation(), Event{Kind: EventDataChannelMessage, ConnectionID: "conn1", Data: []byte("hi")})

	if len(sink.dataChannelMsgs) != 1 || string(sink.dataChannelMsgs[0]) != "hi" {
		t.Fatalf("expected data channel message forwarded, got %v", sink.dataChannelMsgs)
	}
}
