// Package registry implements ConnectionRegistry (C8): the single-writer
// map from a normalized connectionId to its live connection record (peer
// connection adapter, track bookkeeping, cipher negotiation sub-state).
// Grounded on the teacher's sfuRoom.peers map in webrtc/sfu.go, which is
// guarded the same way — one mutex, keyed by peer id, with addPeer/delPeer
// accessors — generalized here to the richer record shape the spec needs
// and to the normalized key space from model.NormalizeConnectionID.
package registry

import (
	"sync"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/pcadapter"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// CipherNegotiationPhase is the per-connection handshake sub-state from
// §3/§4.9.
type CipherNegotiationPhase string

const (
	CipherWaiting         CipherNegotiationPhase = "waiting"
	CipherSetSenderKey    CipherNegotiationPhase = "setSenderKey"
	CipherSetRecipientKey CipherNegotiationPhase = "setRecipientKey"
	CipherComplete        CipherNegotiationPhase = "complete"
)

var cipherTransitions = map[CipherNegotiationPhase]map[CipherNegotiationPhase]bool{
	CipherWaiting:         {CipherSetSenderKey: true, CipherSetRecipientKey: true},
	CipherSetSenderKey:    {CipherComplete: true},
	CipherSetRecipientKey: {CipherComplete: true},
}

// Record is one connection's live state.
type Record struct {
	ConnectionID  string
	Adapter       pcadapter.Adapter
	Call          *model.Call
	CipherPhase   CipherNegotiationPhase
	IceID         uint64
	LastID        uint64
	ReadyForCandidates bool
}

// Registry is the process-wide connection table.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*Record
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Record)}
}

// Put inserts or replaces the record for connectionID.
func (r *Registry) Put(rec *Record) {
	rec.ConnectionID = model.NormalizeConnectionID(rec.ConnectionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ConnectionID] = rec
}

// Find returns the record for connectionID, or connectionNotFound.
func (r *Registry) Find(connectionID string) (*Record, error) {
	connectionID = model.NormalizeConnectionID(connectionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[connectionID]
	if !ok {
		return nil, rtcerr.New(rtcerr.KindConnectionNotFound, connectionID)
	}
	return rec, nil
}

// Update applies fn to the record for connectionID under the registry
// lock, so callers never race a concurrent Remove.
func (r *Registry) Update(connectionID string, fn func(*Record)) error {
	connectionID = model.NormalizeConnectionID(connectionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[connectionID]
	if !ok {
		return rtcerr.New(rtcerr.KindConnectionNotFound, connectionID)
	}
	fn(rec)
	return nil
}

// AdvanceCipherPhase validates and applies a monotonic CipherNegotiationPhase
// transition for connectionID.
func (r *Registry) AdvanceCipherPhase(connectionID string, next CipherNegotiationPhase) error {
	return r.Update(connectionID, func(rec *Record) {
		if rec.CipherPhase == next {
			return
		}
		if rec.CipherPhase == CipherComplete {
			return
		}
		if cipherTransitions[rec.CipherPhase][next] {
			rec.CipherPhase = next
		}
	})
}

// Remove drops the record for connectionID. Safe to call more than once.
func (r *Registry) Remove(connectionID string) {
	connectionID = model.NormalizeConnectionID(connectionID)
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, connectionID)
}

// RemoveAll drops every record, e.g. on full SDK shutdown.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*Record)
}

// All returns a snapshot slice of every current record.
func (r *Registry) All() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	return out
}
