// Package taskqueue implements TaskProcessor (C10): the strictly-ordered,
// per-room write/stream queues that wrap outbound payloads in a
// RatchetMessagePacket (sealed with the signaling ratchet) and unwrap
// inbound ones. Grounded on the teacher's readPumpSFU/writePumpSFU
// goroutine pair in webrtc/sfu.go — one goroutine per direction, draining
// a channel in order — generalized here into typed WriteTask/StreamTask
// queues keyed by roomId instead of a single peer's socket.
package taskqueue

import (
	"sync"

	"github.com/pion/logging"

	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/ratchet"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// Flag enumerates a RatchetMessagePacket's payload kind.
type Flag string

const (
	FlagOffer              Flag = "offer"
	FlagAnswer              Flag = "answer"
	FlagCandidate           Flag = "candidate"
	FlagParticipants        Flag = "participants"
	FlagParticipantDemuxID  Flag = "participantDemuxId"
	FlagHandshakeComplete   Flag = "handshakeComplete"
	FlagSenderKeyRotation   Flag = "senderKeyRotation"
)

// RatchetMessagePacket is the sealed envelope exchanged over the wire for
// every signaling message.
type RatchetMessagePacket struct {
	SFUIdentity    string
	Header         ratchet.Message
	RatchetMessage []byte
	Flag           Flag
}

// WriteTask seals data under roomId's signaling ratchet and dispatches the
// resulting packet to the transport.
type WriteTask struct {
	Data   []byte
	RoomID string
	Flag   Flag
	Call   *model.Call
}

// StreamTask decrypts an inbound packet (lazily initializing the sender's
// recipient ratchet if needed) and dispatches it by Flag.
type StreamTask struct {
	SenderSecretName string
	SenderDeviceID   string
	Packet           RatchetMessagePacket
	Call             *model.Call
}

// Dispatcher is supplied by the caller (CallSession or GroupCallFacade) to
// perform the actual transport send and inbound-packet handling.
type Dispatcher interface {
	SendPacket(roomID string, packet RatchetMessagePacket) error
	HandlePacket(task StreamTask, plaintext []byte) error
}

// RatchetProvider resolves the signaling ratchet.Session for a room,
// initializing the recipient side lazily on first use if needed.
type RatchetProvider interface {
	SessionFor(roomID string) (*ratchet.Session, error)
	EnsureRecipient(roomID, senderSecretName, senderDeviceID string) (*ratchet.Session, error)
}

type queuedTask struct {
	write  *WriteTask
	stream *StreamTask
}

// Processor runs one ordered queue per room.
type Processor struct {
	log        logging.LeveledLogger
	dispatcher Dispatcher
	ratchets   RatchetProvider

	mu               sync.Mutex
	queues           map[string]chan queuedTask
	rejectedUntilInit map[string]bool
}

// NewProcessor constructs a task processor.
func NewProcessor(dispatcher Dispatcher, ratchets RatchetProvider, logger logging.LeveledLogger) *Processor {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("taskqueue")
	}
	return &Processor{
		log:               logger,
		dispatcher:        dispatcher,
		ratchets:          ratchets,
		queues:            make(map[string]chan queuedTask),
		rejectedUntilInit: make(map[string]bool),
	}
}

func (p *Processor) queueFor(roomID string) chan queuedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[roomID]
	if !ok {
		q = make(chan queuedTask, 256)
		p.queues[roomID] = q
		go p.run(roomID, q)
	}
	return q
}

// EnqueueWrite submits a WriteTask for roomID.
func (p *Processor) EnqueueWrite(t WriteTask) {
	p.queueFor(t.RoomID) <- queuedTask{write: &t}
}

// EnqueueStream submits a StreamTask for roomID.
func (p *Processor) EnqueueStream(roomID string, t StreamTask) {
	p.queueFor(roomID) <- queuedTask{stream: &t}
}

func (p *Processor) run(roomID string, q chan queuedTask) {
	for task := range q {
		switch {
		case task.write != nil:
			p.processWrite(roomID, *task.write)
		case task.stream != nil:
			p.processStream(roomID, *task.stream)
		}
	}
}

func (p *Processor) isRejected(roomID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rejectedUntilInit[roomID]
}

func (p *Processor) setRejected(roomID string, rejected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectedUntilInit[roomID] = rejected
}

func (p *Processor) processWrite(roomID string, t WriteTask) {
	if p.isRejected(roomID) {
		p.log.Warnf("taskqueue: dropping write task for %s, pending sender re-initialization", roomID)
		return
	}

	sess, err := p.ratchets.SessionFor(roomID)
	if err != nil {
		p.log.Errorf("taskqueue: no signaling ratchet for %s: %v", roomID, err)
		p.setRejected(roomID, true)
		return
	}

	sealed, err := sess.RatchetEncrypt(t.Data, []byte(roomID))
	if err != nil {
		p.log.Errorf("taskqueue: seal failed for %s: %v", roomID, err)
		return
	}

	packet := RatchetMessagePacket{
		SFUIdentity:    roomID,
		Header:         sealed,
		RatchetMessage: sealed.Ciphertext,
		Flag:           t.Flag,
	}
	if err := p.dispatcher.SendPacket(roomID, packet); err != nil {
		p.log.Errorf("taskqueue: dispatch failed for %s: %v", roomID, err)
	}
}

func (p *Processor) processStream(roomID string, t StreamTask) {
	sess, err := p.ratchets.EnsureRecipient(roomID, t.SenderSecretName, t.SenderDeviceID)
	if err != nil {
		p.log.Errorf("taskqueue: recipient ratchet init failed for %s: %v", roomID, err)
		p.setRejected(roomID, true)
		return
	}
	p.setRejected(roomID, false)

	plaintext, err := sess.RatchetDecrypt(t.Packet.Header, []byte(roomID))
	if err != nil {
		p.log.Errorf("taskqueue: open failed for %s: %v", roomID, err)
		return
	}

	if err := p.dispatcher.HandlePacket(t, plaintext); err != nil {
		p.log.Errorf("taskqueue: handler failed for %s: %v", roomID, rtcerr.Wrap(rtcerr.KindMissingCryptoPayload, "handle stream task", err))
	}
}
