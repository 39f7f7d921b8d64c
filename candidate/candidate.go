// Package candidate implements CandidateBuffer (C5): the per-connection
// FIFO queues that hold ICE candidates on either side of the
// setRemoteDescription/readyForCandidates gate. Grounded on the teacher's
// own candidate handling in webrtc/sfu.go, which queues trickled
// candidates behind a connection-state check before calling
// AddICECandidate; here that ad-hoc queuing is pulled out into its own
// type so CallSession and GroupCallFacade share one implementation.
package candidate

import (
	"sync"

	"github.com/pqsrtc/sdk-go/model"
)

// Buffers holds the inbound and outbound candidate queues for one
// connection.
type Buffers struct {
	mu                 sync.Mutex
	inbound            []model.IceCandidate
	outbound           []model.IceCandidate
	readyForCandidates bool
}

// Store maps connectionId to its Buffers, the same key space the
// ConnectionRegistry (C8) uses.
type Store struct {
	mu   sync.Mutex
	byID map[string]*Buffers
}

// NewStore constructs an empty candidate store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*Buffers)}
}

func (s *Store) bucket(connectionID string) *Buffers {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[connectionID]
	if !ok {
		b = &Buffers{}
		s.byID[connectionID] = b
	}
	return b
}

// Feed appends an inbound candidate for connectionID.
func (s *Store) Feed(connectionID string, c model.IceCandidate) {
	b := s.bucket(connectionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = append(b.inbound, c)
}

// Drain returns all pending inbound candidates for connectionID in FIFO
// order and clears the queue. Call only once the connection has entered
// setRemote.
func (s *Store) Drain(connectionID string) []model.IceCandidate {
	b := s.bucket(connectionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.inbound
	b.inbound = nil
	return out
}

// QueueOutbound appends a locally generated candidate. If the connection
// is already readyForCandidates the candidate is returned immediately for
// the caller to send; otherwise it is held for a later Flush.
func (s *Store) QueueOutbound(connectionID string, c model.IceCandidate) (sendNow bool) {
	b := s.bucket(connectionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readyForCandidates {
		return true
	}
	b.outbound = append(b.outbound, c)
	return false
}

// SetReadyForCandidates flips the gate (enabled once local+remote
// descriptions are both set) and returns the held outbound candidates in
// FIFO order for the caller to flush exactly once.
func (s *Store) SetReadyForCandidates(connectionID string) []model.IceCandidate {
	b := s.bucket(connectionID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyForCandidates = true
	out := b.outbound
	b.outbound = nil
	return out
}

// Remove discards all queues for connectionID, e.g. on teardown.
func (s *Store) Remove(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, connectionID)
}
