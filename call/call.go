// Package call implements CallSession (C11), the top-level 1:1 call
// coordinator: it wires together the crypto handshake (keymanager +
// ratchet), the frame-cryptor key ring (framekey), SDP handling
// (sdputil + pcadapter), candidate buffering, the call state machine, the
// connection registry, and the signaling task queue behind the public
// operations §4.11 names.
//
// Grounded end to end on the teacher's sfuPeer lifecycle in
// webrtc/sfu.go: SfuWebsocketHandler's peer-connection setup becomes
// createCryptoPeerConnection, readPumpSFU's offer/answer/candidate
// switch becomes handleOffer/handleAnswer/handleCandidate, and the
// teacher's connection cleanup on socket close becomes
// finishEndConnection — generalized from one SFU room's bookkeeping to
// the full crypto-handshake-aware 1:1 session the spec describes.
package call

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/pqsrtc/sdk-go/callstate"
	"github.com/pqsrtc/sdk-go/candidate"
	"github.com/pqsrtc/sdk-go/framekey"
	"github.com/pqsrtc/sdk-go/keymanager"
	"github.com/pqsrtc/sdk-go/model"
	"github.com/pqsrtc/sdk-go/notify"
	"github.com/pqsrtc/sdk-go/pcadapter"
	"github.com/pqsrtc/sdk-go/ratchet"
	"github.com/pqsrtc/sdk-go/registry"
	"github.com/pqsrtc/sdk-go/rtcconfig"
	"github.com/pqsrtc/sdk-go/rtcerr"
	"github.com/pqsrtc/sdk-go/sdputil"
	"github.com/pqsrtc/sdk-go/taskqueue"
	"github.com/pqsrtc/sdk-go/transport"
	"github.com/pqsrtc/sdk-go/wire"
)

// unansweredTimeout is the ~30s window finishCryptoSessionCreation allows
// before tearing a connection down as unanswered (§4.11).
const unansweredTimeout = 30 * time.Second

// CallSession is the top-level 1:1 coordinator. One instance serves one
// device's entire calling lifetime; individual calls are tracked by
// connectionId in the Registry.
type CallSession struct {
	cfg rtcconfig.RTCSessionConfig
	log logging.LeveledLogger

	transport transport.Transport

	frameKeys     *keymanager.Manager
	signalingKeys *keymanager.Manager
	frameRatchets map[string]*ratchet.Session
	signalRatchets map[string]*ratchet.Session
	ratchetsMu    sync.Mutex

	frameKeyProvider *framekey.Provider

	registry   *registry.Registry
	candidates *candidate.Store
	processor  *taskqueue.Processor
	consumer   *notify.Consumer

	mu                 sync.Mutex
	activeConnectionID string
	states             map[string]*callstate.Machine
	endedKeys          map[string]bool

	newAdapter func(pcadapter.Config) (pcadapter.Adapter, error)
}

// New constructs a CallSession. newAdapter is injected so tests can supply
// a fake PeerConnectionAdapter instead of opening real sockets; production
// callers pass pcadapter.NewPionAdapter wrapped to satisfy the signature.
func New(cfg rtcconfig.RTCSessionConfig, tport transport.Transport, newAdapter func(pcadapter.Config) (pcadapter.Adapter, error), logger logging.LeveledLogger) *CallSession {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("call")
	}
	cs := &CallSession{
		cfg:              cfg,
		log:              logger,
		transport:        tport,
		frameKeys:        keymanager.New("frame", logger),
		signalingKeys:    keymanager.New("signaling", logger),
		frameRatchets:    make(map[string]*ratchet.Session),
		signalRatchets:   make(map[string]*ratchet.Session),
		frameKeyProvider: framekey.NewProvider(cfg.FrameEncryptionKeyMode, frameCryptorConfigFrom(cfg)),
		registry:         registry.New(),
		candidates:       candidate.NewStore(),
		states:           make(map[string]*callstate.Machine),
		endedKeys:        make(map[string]bool),
		newAdapter:       newAdapter,
	}
	cs.processor = taskqueue.NewProcessor(cs, cs, logger)
	cs.consumer = notify.New(&callSink{cs: cs}, cs.candidates, cs.stateMachine, logger)
	return cs
}

func frameCryptorConfigFrom(cfg rtcconfig.RTCSessionConfig) rtcconfig.FrameCryptorConfig {
	fc := rtcconfig.DefaultFrameCryptorConfig()
	if cfg.RatchetSalt != nil {
		fc.RatchetSalt = cfg.RatchetSalt
	}
	return fc
}

func (cs *CallSession) stateMachine(connectionID string) *callstate.Machine {
	connectionID = model.NormalizeConnectionID(connectionID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	m, ok := cs.states[connectionID]
	if !ok {
		m = callstate.New()
		cs.states[connectionID] = m
	}
	return m
}

// StartCall sends a start_call control message via the transport and
// transitions state to connecting if currently ready.
func (cs *CallSession) StartCall(call *model.Call) error {
	if err := cs.transport.SendStartCall(call); err != nil {
		return err
	}
	m := cs.stateMachine(call.SharedCommunicationID)
	cur := m.Current()
	if cur.Phase == callstate.PhaseReady {
		return m.Transition(callstate.State{Phase: callstate.PhaseConnecting, Direction: cur.Direction, Call: call})
	}
	return nil
}

// InitiateCall validates call and creates the crypto peer connection
// (local identities, identity props, adapter, registry record) via
// CreateCryptoPeerConnection. It initializes no ratchet and adds no local
// tracks; the signaling ratchet is set up by FinishCryptoSessionCreation.
func (cs *CallSession) InitiateCall(call *model.Call) error {
	if err := call.Validate(false); err != nil {
		return err
	}
	return cs.CreateCryptoPeerConnection(call)
}

// CreateCryptoPeerConnection ensures local/remote identities exist in both
// KeyManagers, rewrites call's identity props to the local advertised
// props, and opens the peer connection.
func (cs *CallSession) CreateCryptoPeerConnection(call *model.Call) error {
	connectionID := call.SharedCommunicationID

	frameLocal, err := cs.frameKeys.GenerateSenderIdentity(connectionID, call.Sender.SecretName)
	if err != nil {
		return err
	}
	signalLocal, err := cs.signalingKeys.GenerateSenderIdentity(connectionID, call.Sender.SecretName)
	if err != nil {
		return err
	}

	call.FrameIdentityProps = &model.IdentityProps{
		LongTermPublic: frameLocal.LocalKeys.LongTermPublic[:],
		OneTimePublic:  optionalPublic(frameLocal.LocalKeys.OneTimePublic),
	}
	call.SignalingIdentityProps = &model.IdentityProps{
		LongTermPublic: signalLocal.LocalKeys.LongTermPublic[:],
		OneTimePublic:  optionalPublic(signalLocal.LocalKeys.OneTimePublic),
	}

	adapter, err := cs.newAdapter(pcadapter.Config{
		ICEServers: cs.cfg.ICEServers,
		Username:   cs.cfg.Username,
		Password:   cs.cfg.Password,
	})
	if err != nil {
		return err
	}

	rec := &registry.Record{
		ConnectionID: connectionID,
		Adapter:      adapter,
		Call:         call,
		CipherPhase:  registry.CipherWaiting,
	}
	cs.registry.Put(rec)
	cs.wireAdapterEvents(connectionID, adapter)
	return nil
}

func optionalPublic(p *[32]byte) []byte {
	if p == nil {
		return nil
	}
	return p[:]
}

func (cs *CallSession) wireAdapterEvents(connectionID string, adapter pcadapter.Adapter) {
	gen := cs.consumer.Generation()

	adapter.OnConnectionStateChange(func(state string) {
		cs.consumer.Consume(gen, notify.Event{
			Kind:         notify.EventICEConnectionState,
			ConnectionID: connectionID,
			ICEState:     state,
		})
	})
	adapter.OnICECandidate(func(c model.IceCandidate) {
		cs.consumer.Consume(gen, notify.Event{
			Kind:         notify.EventGeneratedICECandidate,
			ConnectionID: connectionID,
			Candidate:    c,
		})
	})
	adapter.OnTrack(func(trackID string, streamIDs []string, kind string) {
		cs.consumer.Consume(gen, notify.Event{
			Kind:         notify.EventDidAddReceiver,
			ConnectionID: connectionID,
			TrackID:      trackID,
			StreamIDs:    streamIDs,
			TrackKind:    kind,
		})
	})
	adapter.OnDataChannelMessage(func(data []byte) {
		cs.consumer.Consume(gen, notify.Event{
			Kind:         notify.EventDataChannelMessage,
			ConnectionID: connectionID,
			Data:         data,
		})
	})
}

// FinishCryptoSessionCreation resolves the recipient, stores the buffered
// ciphertext, completes the recipient ratchet init, samples this call's
// frame key from crypto/rand and installs and sends it (sendFrameKey; the
// key is not derived from the ratchet), advances the
// CipherNegotiationState (§4.11), and sends an SDP
// offer. It then blocks, up to unansweredTimeout, for the call to reach
// connected — returning rtcerr.KindRejected/KindUnanswered/KindCallExpired
// to the caller instead of only tearing down in the background, so E2/E3's
// lifecycle errors actually reach whoever is waiting on this call.
func (cs *CallSession) FinishCryptoSessionCreation(ciphertext []byte, call *model.Call) error {
	connectionID := call.SharedCommunicationID
	cs.signalingKeys.StoreCiphertext(connectionID, ciphertext)

	if call.Rejected {
		_ = cs.FinishEndConnection(call, false)
		return rtcerr.New(rtcerr.KindRejected, connectionID)
	}

	rec, err := cs.registry.Find(connectionID)
	if err != nil {
		return err
	}

	if _, err := cs.ensureRecipientRatchet(connectionID, cs.signalRatchets, cs.signalingKeys, call.Sender, ciphertext); err != nil {
		return err
	}

	if call.Failed {
		_ = cs.FinishEndConnection(call, true)
		return rtcerr.New(rtcerr.KindCallExpired, connectionID)
	}

	if err := cs.sendFrameKey(connectionID, call); err != nil {
		cs.log.Warnf("call: frame key handshake for %s failed: %v", connectionID, err)
	}

	offer, err := rec.Adapter.CreateOffer(false)
	if err != nil {
		_ = cs.FinishEndConnection(call, true)
		return err
	}
	if err := rec.Adapter.SetLocalDescription(offer); err != nil {
		_ = cs.FinishEndConnection(call, true)
		return err
	}
	if err := cs.transport.SendOffer(call); err != nil {
		return err
	}

	return cs.awaitAnswerOrTimeout(call)
}

// awaitAnswerOrTimeout blocks on the call's state-machine subscriber
// channel until the call connects, fails, ends, or unansweredTimeout
// elapses — surfacing the outcome as an rtcerr to the caller instead of a
// detached goroutine nobody observes.
func (cs *CallSession) awaitAnswerOrTimeout(call *model.Call) error {
	m := cs.stateMachine(call.SharedCommunicationID)
	ch, err := m.Subscribe()
	if err != nil {
		return err
	}
	timer := time.NewTimer(unansweredTimeout)
	defer timer.Stop()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return rtcerr.New(rtcerr.KindCallExpired, call.SharedCommunicationID)
			}
			switch st.Phase {
			case callstate.PhaseConnected, callstate.PhaseHeld:
				return nil
			case callstate.PhaseFailed, callstate.PhaseEnded:
				_ = cs.FinishEndConnection(call, true)
				return rtcerr.New(rtcerr.KindCallExpired, call.SharedCommunicationID)
			}
		case <-timer.C:
			call.MarkUnanswered()
			_ = cs.FinishEndConnection(call, true)
			return rtcerr.New(rtcerr.KindUnanswered, call.SharedCommunicationID)
		}
	}
}

func (cs *CallSession) ensureRecipientRatchet(connectionID string, store map[string]*ratchet.Session, km *keymanager.Manager, sender model.Participant, ciphertext []byte) (*ratchet.Session, error) {
	cs.ratchetsMu.Lock()
	defer cs.ratchetsMu.Unlock()
	if sess, ok := store[connectionID]; ok {
		return sess, nil
	}
	local, err := km.GenerateSenderIdentity(connectionID, sender.SecretName)
	if err != nil {
		return nil, err
	}
	sess, err := ratchet.RecipientInitialization(connectionID, ciphertext, local.LocalKeys.LongTermPrivate[:])
	if err != nil {
		return nil, err
	}
	store[connectionID] = sess
	return sess, nil
}

// sendFrameKey samples the fresh media-frame key for this call, installs
// it locally under both the local and remote participant ids (E1),
// advances CipherPhase to setSenderKey then complete, and seals+sends the
// key to the peer over the already-established signaling ratchet — the
// same "sample, install locally, distribute over the signaling ratchet"
// shape as group.RotateSenderKey/distributeSenderKey, applied to a call
// with exactly one peer instead of a roster.
func (cs *CallSession) sendFrameKey(connectionID string, call *model.Call) error {
	cs.ratchetsMu.Lock()
	sess, ok := cs.signalRatchets[connectionID]
	cs.ratchetsMu.Unlock()
	if !ok {
		return rtcerr.New(rtcerr.KindMissingSessionIdentity, connectionID)
	}

	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return rtcerr.Wrap(rtcerr.KindInvalidConfiguration, "sample frame key", err)
	}
	const keyIndex = 0
	cs.installFrameKey(call, key, keyIndex)

	if err := cs.registry.AdvanceCipherPhase(connectionID, registry.CipherSetSenderKey); err != nil {
		return err
	}

	payload, err := wire.EncodeFrameKeyPayload(keyIndex, key)
	if err != nil {
		return err
	}
	sealed, err := sess.RatchetEncrypt(payload, []byte(connectionID))
	if err != nil {
		return err
	}
	packet := taskqueue.RatchetMessagePacket{
		SFUIdentity:    connectionID,
		Header:         sealed,
		RatchetMessage: sealed.Ciphertext,
		Flag:           taskqueue.FlagSenderKeyRotation,
	}
	if err := cs.transport.SendOneToOneMessage(packet, call.Sender); err != nil {
		return err
	}
	return cs.registry.AdvanceCipherPhase(connectionID, registry.CipherComplete)
}

// receiveFrameKey handles an inbound FlagSenderKeyRotation stream task:
// decodes the peer's frame key, installs it locally under both
// participant ids, and completes this side's CipherNegotiationState.
func (cs *CallSession) receiveFrameKey(connectionID string, call *model.Call, plaintext []byte) error {
	keyIndex, key, err := wire.DecodeFrameKeyPayload(plaintext)
	if err != nil {
		return err
	}
	cs.installFrameKey(call, key, keyIndex)

	if err := cs.registry.AdvanceCipherPhase(connectionID, registry.CipherSetRecipientKey); err != nil {
		return err
	}
	return cs.registry.AdvanceCipherPhase(connectionID, registry.CipherComplete)
}

// installFrameKey sets key at keyIndex under both the local participant id
// (call.Sender) and every remote participant id (call.Recipients), so
// SealFrame/OpenFrame can be addressed by either side's participantId.
func (cs *CallSession) installFrameKey(call *model.Call, key [32]byte, keyIndex int) {
	cs.frameKeyProvider.SetKey(call.Sender.SecretName, key, keyIndex)
	for _, recipient := range call.Recipients {
		cs.frameKeyProvider.SetKey(recipient.SecretName, key, keyIndex)
	}
}

// AnswerCall generates local frame and signaling identities, attaches
// props to the call, and notifies the transport.
func (cs *CallSession) AnswerCall(call *model.Call) error {
	if err := cs.CreateCryptoPeerConnection(call); err != nil {
		return err
	}
	if err := cs.transport.SendCallAnswered(call); err != nil {
		return err
	}
	return cs.transport.SendCallAnsweredAuxDevice(call)
}

// HandleOffer rewrites sdp via SDPTransformer, sets remote, creates and
// sends an answer, transitions to connecting, and begins sending buffered
// outbound candidates.
func (cs *CallSession) HandleOffer(call *model.Call, sdp model.SessionDescription, metadata []byte) error {
	connectionID := call.SharedCommunicationID
	rec, err := cs.registry.Find(connectionID)
	if err != nil {
		return err
	}

	rewritten, err := sdputil.Transform(sdp.SDP, call.SupportsVideo)
	if err != nil {
		return err
	}
	sdp.SDP = rewritten

	if err := rec.Adapter.SetRemoteDescription(sdp); err != nil {
		m := cs.stateMachine(connectionID)
		cur := m.Current()
		_ = m.Transition(callstate.State{Phase: callstate.PhaseFailed, Direction: cur.Direction, Call: call, Reason: "setRemoteDescription"})
		_ = cs.FinishEndConnection(call, true)
		return err
	}

	for _, c := range cs.candidates.Drain(connectionID) {
		_ = rec.Adapter.AddICECandidate(c)
	}

	answer, err := rec.Adapter.CreateAnswer()
	if err != nil {
		return err
	}
	if err := rec.Adapter.SetLocalDescription(answer); err != nil {
		return err
	}

	m := cs.stateMachine(connectionID)
	cur := m.Current()
	if err := m.Transition(callstate.State{Phase: callstate.PhaseConnecting, Direction: cur.Direction, Call: call}); err != nil {
		return err
	}

	for _, c := range cs.candidates.SetReadyForCandidates(connectionID) {
		_ = cs.transport.SendCandidate(c, call)
	}

	return cs.transport.SendAnswer(call, metadata)
}

// HandleAnswer sets the remote description from an SDP answer.
func (cs *CallSession) HandleAnswer(call *model.Call, sdp model.SessionDescription) error {
	rec, err := cs.registry.Find(call.SharedCommunicationID)
	if err != nil {
		return err
	}
	if err := rec.Adapter.SetRemoteDescription(sdp); err != nil {
		_ = cs.FinishEndConnection(call, true)
		return err
	}
	for _, c := range cs.candidates.SetReadyForCandidates(call.SharedCommunicationID) {
		_ = cs.transport.SendCandidate(c, call)
	}
	return nil
}

// HandleCandidate applies c to the connection's adapter as soon as a
// registry record exists for the connection, whether or not a remote
// description has been set yet. Only when no record exists is c fed to
// the candidate buffer instead.
func (cs *CallSession) HandleCandidate(call *model.Call, c model.IceCandidate) error {
	connectionID := call.SharedCommunicationID
	rec, err := cs.registry.Find(connectionID)
	if err != nil {
		cs.candidates.Feed(connectionID, c)
		return nil
	}
	return rec.Adapter.AddICECandidate(c)
}

// EndCall is the public, non-forced teardown entry point.
func (cs *CallSession) EndCall(call *model.Call) error {
	return cs.FinishEndConnection(call, false)
}

// FinishEndConnection tears a connection down idempotently.
func (cs *CallSession) FinishEndConnection(call *model.Call, force bool) error {
	key := dedupKey(call)

	cs.mu.Lock()
	if cs.endedKeys[key] && !force {
		cs.mu.Unlock()
		return nil
	}
	cs.endedKeys[key] = true
	if cs.activeConnectionID == call.SharedCommunicationID {
		cs.activeConnectionID = ""
	}
	cs.mu.Unlock()

	rec, err := cs.registry.Find(call.SharedCommunicationID)
	if err == nil && rec.Adapter != nil {
		_ = rec.Adapter.Close()
	}

	cs.frameKeys.RemoveConnectionIdentity(call.SharedCommunicationID)
	cs.signalingKeys.RemoveConnectionIdentity(call.SharedCommunicationID)

	cs.ratchetsMu.Lock()
	if sess, ok := cs.frameRatchets[call.SharedCommunicationID]; ok {
		sess.Shutdown()
		delete(cs.frameRatchets, call.SharedCommunicationID)
	}
	if sess, ok := cs.signalRatchets[call.SharedCommunicationID]; ok {
		sess.Shutdown()
		delete(cs.signalRatchets, call.SharedCommunicationID)
	}
	cs.ratchetsMu.Unlock()

	cs.candidates.Remove(call.SharedCommunicationID)
	cs.registry.Remove(call.SharedCommunicationID)

	endState := "userInitiated"
	switch {
	case call.Rejected:
		endState = "partnerInitiatedRejected"
	case call.Unanswered:
		endState = "userInitiatedUnanswered"
	case call.Failed:
		endState = "failed"
	}
	return cs.transport.DidEnd(call, endState)
}

func dedupKey(call *model.Call) string {
	if call.SharedMessageID != "" {
		return call.SharedMessageID + "|" + call.SharedCommunicationID
	}
	return call.ID.String() + "|" + call.SharedCommunicationID
}

// Shutdown cancels the notification consumer generation, shuts down both
// ratchet managers, clears both KeyManagers, and removes all connections.
func (cs *CallSession) Shutdown() {
	cs.consumer.Bump()
	for _, rec := range cs.registry.All() {
		if rec.Adapter != nil {
			_ = rec.Adapter.Close()
		}
	}
	cs.registry.RemoveAll()
	cs.frameKeys.ClearAll()
	cs.signalingKeys.ClearAll()

	cs.ratchetsMu.Lock()
	for id, sess := range cs.frameRatchets {
		sess.Shutdown()
		delete(cs.frameRatchets, id)
	}
	for id, sess := range cs.signalRatchets {
		sess.Shutdown()
		delete(cs.signalRatchets, id)
	}
	cs.ratchetsMu.Unlock()

	cs.mu.Lock()
	cs.activeConnectionID = ""
	cs.states = make(map[string]*callstate.Machine)
	cs.endedKeys = make(map[string]bool)
	cs.mu.Unlock()
}

// --- taskqueue.Dispatcher / taskqueue.RatchetProvider ---

// SendPacket implements taskqueue.Dispatcher by routing a sealed packet to
// the 1:1 transport.
func (cs *CallSession) SendPacket(roomID string, packet taskqueue.RatchetMessagePacket) error {
	rec, err := cs.registry.Find(roomID)
	if err != nil {
		return err
	}
	return cs.transport.SendOneToOneMessage(packet, rec.Call.Sender)
}

// HandlePacket implements taskqueue.Dispatcher for inbound stream tasks,
// dispatching the decrypted plaintext by the packet's Flag to the matching
// handler (§4.10).
func (cs *CallSession) HandlePacket(task taskqueue.StreamTask, plaintext []byte) error {
	connectionID := task.Call.SharedCommunicationID
	switch task.Packet.Flag {
	case taskqueue.FlagOffer:
		sdp, err := wire.DecodeSessionDescription(plaintext)
		if err != nil {
			return err
		}
		return cs.HandleOffer(task.Call, sdp, nil)
	case taskqueue.FlagAnswer:
		sdp, err := wire.DecodeSessionDescription(plaintext)
		if err != nil {
			return err
		}
		return cs.HandleAnswer(task.Call, sdp)
	case taskqueue.FlagCandidate:
		c, err := wire.DecodeIceCandidate(plaintext)
		if err != nil {
			return err
		}
		return cs.HandleCandidate(task.Call, c)
	case taskqueue.FlagSenderKeyRotation:
		return cs.receiveFrameKey(connectionID, task.Call, plaintext)
	default:
		cs.log.Debugf("call: ignoring %s packet (%d bytes)", task.Packet.Flag, len(plaintext))
		return nil
	}
}

// SessionFor implements taskqueue.RatchetProvider.
func (cs *CallSession) SessionFor(roomID string) (*ratchet.Session, error) {
	cs.ratchetsMu.Lock()
	defer cs.ratchetsMu.Unlock()
	sess, ok := cs.signalRatchets[roomID]
	if !ok {
		return nil, rtcerr.New(rtcerr.KindMissingSessionIdentity, roomID)
	}
	return sess, nil
}

// EnsureRecipient implements taskqueue.RatchetProvider, lazily
// initializing the recipient side of the signaling ratchet.
func (cs *CallSession) EnsureRecipient(roomID, senderSecretName, senderDeviceID string) (*ratchet.Session, error) {
	ciphertext, ok := cs.signalingKeys.FetchCiphertext(roomID)
	if !ok {
		return nil, rtcerr.New(rtcerr.KindMissingCipherText, roomID)
	}
	return cs.ensureRecipientRatchet(roomID, cs.signalRatchets, cs.signalingKeys, model.Participant{SecretName: senderSecretName, DeviceID: senderDeviceID}, ciphertext)
}

var _ notify.Sink = (*callSink)(nil)

// callSink adapts CallSession to notify.Sink; kept as a small separate
// type so CallSession itself doesn't have to satisfy every notify method
// signature directly.
type callSink struct {
	cs *CallSession
}

func (s *callSink) ResolveParticipant(streamIDs []string, _ string) string {
	if len(streamIDs) == 0 {
		return ""
	}
	return streamIDs[0]
}

func (s *callSink) IsActiveConnection(connectionID string) bool {
	s.cs.mu.Lock()
	defer s.cs.mu.Unlock()
	return s.cs.activeConnectionID == "" || s.cs.activeConnectionID == connectionID
}

func (s *callSink) OnConnected(connectionID string) {
	s.cs.mu.Lock()
	s.cs.activeConnectionID = connectionID
	s.cs.mu.Unlock()
}

func (s *callSink) OnFailed(connectionID, reason string) {
	s.cs.log.Warnf("call: connection %s failed: %s", connectionID, reason)
}

func (s *callSink) OnGeneratedCandidate(connectionID string, c model.IceCandidate, readyForCandidates bool) {
	if !readyForCandidates {
		return
	}
	rec, err := s.cs.registry.Find(connectionID)
	if err != nil {
		return
	}
	_ = s.cs.transport.SendCandidate(c, rec.Call)
}

func (s *callSink) OnReceiverAdded(connectionID, participantID, trackID, kind string) {
	s.cs.log.Debugf("call: receiver added connection=%s participant=%s track=%s kind=%s", connectionID, participantID, trackID, kind)
	rec, err := s.cs.registry.Find(connectionID)
	if err != nil {
		return
	}
	peer := rec.Call.Sender.SecretName
	cryptor, err := rec.Adapter.CreateFrameCryptor(pcadapter.CryptorReceiver, peer, 0, s.cs.frameKeyProvider, trackID)
	if err != nil {
		s.cs.log.Warnf("call: create receiver cryptor for %s failed: %v", trackID, err)
		return
	}
	cryptor.OnStateChange(func(state pcadapter.CryptorState) {
		if state == pcadapter.CryptorStateKeyMissing || state == pcadapter.CryptorStateError {
			s.cs.log.Warnf("call: receiver cryptor for track %s entered state %d", trackID, state)
		}
	})
}

func (s *callSink) OnStreamAdded(connectionID string, streamIDs []string) {
	s.cs.log.Debugf("call: stream added connection=%s streams=%v", connectionID, streamIDs)
	rec, err := s.cs.registry.Find(connectionID)
	if err != nil {
		return
	}
	peer := rec.Call.Sender.SecretName
	for _, sender := range rec.Adapter.Senders() {
		if _, err := rec.Adapter.CreateFrameCryptor(pcadapter.CryptorSender, peer, 0, s.cs.frameKeyProvider, sender.TrackID()); err != nil {
			s.cs.log.Warnf("call: ensure sender cryptor for %s failed: %v", connectionID, err)
		}
	}
}

func (s *callSink) OnDataChannelMessage(connectionID string, data []byte) {
	s.cs.log.Debugf("call: data channel message on %s (%d bytes)", connectionID, len(data))
}
