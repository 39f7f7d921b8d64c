// Package framekey implements the frame-cryptor key ring (component C3):
// the per-participant (or shared) symmetric keys actually used to seal and
// open individual media frames, plus the HKDF ratchet that advances a key
// forward when the application rotates it.
//
// This sits directly below the WebRTC frame-transform hook, so unlike the
// signaling ratchet (package ratchet, grounded on github.com/ericlagergren/dr)
// there is no off-the-shelf "frame cryptor" library in the example corpus —
// LiveKit/browser frame-cryptor implementations of this layer are
// JS/C++-only. We use stdlib crypto/aes + crypto/cipher for the AEAD, which
// mirrors the teacher pack's own practice of reaching for crypto/* directly
// for primitive AEAD sealing where no higher-level Go package exists (see
// ericlagergren-dr's djb/nist suites, which do the same for their own
// message-key sealing).
package framekey

import (
	"container/list"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/pqsrtc/sdk-go/rtcconfig"
	"github.com/pqsrtc/sdk-go/rtcerr"
)

// KeyHandle is an opaque 32-byte AES-256 key slot in the ring, addressed by
// keyIndex the way the spec's frame-cryptor hook addresses key material.
type KeyHandle struct {
	Key     [32]byte
	Index   int
	Version uint64
}

// ring is the per-identity (participant, for PerParticipant mode; or the
// single shared identity, for Shared mode) bounded set of key slots.
type ring struct {
	slots map[int]*KeyHandle
	order *list.List // keyIndex eviction order, oldest first
	elems map[int]*list.Element
}

func newRing() *ring {
	return &ring{
		slots: make(map[int]*KeyHandle),
		order: list.New(),
		elems: make(map[int]*list.Element),
	}
}

// Provider is the key source the frame-cryptor hook consults on every
// outbound and inbound frame. One Provider serves one CallSession or
// GroupCallFacade, scoped by rtcconfig.FrameEncryptionKeyMode.
type Provider struct {
	cfg  rtcconfig.FrameCryptorConfig
	mode rtcconfig.FrameEncryptionKeyMode

	mu     sync.RWMutex
	shared *ring
	byID   map[string]*ring // participantId -> ring, PerParticipant mode only
}

// NewProvider builds a key provider. mode and cfg are fixed for the
// lifetime of the call.
func NewProvider(mode rtcconfig.FrameEncryptionKeyMode, cfg rtcconfig.FrameCryptorConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		mode:   mode,
		shared: newRing(),
		byID:   make(map[string]*ring),
	}
}

func (p *Provider) ringFor(participantID string) *ring {
	if p.mode == rtcconfig.FrameKeyModeShared {
		return p.shared
	}
	r, ok := p.byID[participantID]
	if !ok {
		r = newRing()
		p.byID[participantID] = r
	}
	return r
}

func (r *ring) put(cfg rtcconfig.FrameCryptorConfig, h *KeyHandle) {
	if elem, ok := r.elems[h.Index]; ok {
		r.order.MoveToBack(elem)
		r.slots[h.Index] = h
		return
	}
	elem := r.order.PushBack(h.Index)
	r.elems[h.Index] = elem
	r.slots[h.Index] = h
	for r.order.Len() > cfg.KeyRingSize {
		oldest := r.order.Front()
		idx := oldest.Value.(int)
		r.order.Remove(oldest)
		delete(r.elems, idx)
		delete(r.slots, idx)
	}
}

// SetSharedKey installs a raw key at keyIndex in the shared ring,
// regardless of mode (used to seed a call before the first participant
// joins).
func (p *Provider) SetSharedKey(key [32]byte, keyIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared.put(p.cfg, &KeyHandle{Key: key, Index: keyIndex})
}

// SetKey installs a raw key at keyIndex for a specific participant
// (PerParticipant mode) or the shared identity (Shared mode, where
// participantID is ignored).
func (p *Provider) SetKey(participantID string, key [32]byte, keyIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ringFor(participantID).put(p.cfg, &KeyHandle{Key: key, Index: keyIndex})
}

// RatchetSharedKey derives the next shared key by HKDF-expanding the
// current one with the configured ratchet salt, installs it one index
// forward, and returns the new key material for export.
func (p *Provider) RatchetSharedKey() ([32]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratchetRing(p.shared)
}

// RatchetKey is RatchetSharedKey scoped to one participant's ring.
func (p *Provider) RatchetKey(participantID string) ([32]byte, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratchetRing(p.ringFor(participantID))
}

func (p *Provider) ratchetRing(r *ring) ([32]byte, int, error) {
	var current *KeyHandle
	if r.order.Back() != nil {
		current = r.slots[r.order.Back().Value.(int)]
	}
	if current == nil {
		return [32]byte{}, 0, rtcerr.New(rtcerr.KindMissingCryptoPayload, "no key to ratchet from")
	}

	next, err := hkdfRatchet(current.Key, p.cfg.RatchetSalt)
	if err != nil {
		return [32]byte{}, 0, rtcerr.Wrap(rtcerr.KindMissingCryptoPayload, "ratchet frame key", err)
	}
	nextIndex := current.Index + 1
	r.put(p.cfg, &KeyHandle{Key: next, Index: nextIndex, Version: current.Version + 1})
	return next, nextIndex, nil
}

func hkdfRatchet(key [32]byte, salt []byte) ([32]byte, error) {
	var out [32]byte
	r := hkdf.New(sha256.New, key[:], salt, []byte("pqsrtc:frame-key-ratchet"))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// ExportSharedKey returns the newest shared key and its index.
func (p *Provider) ExportSharedKey() (KeyHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return latest(p.shared)
}

// ExportKey returns the key installed at keyIndex for participantID. The
// ring retains up to keyRingSize-1 superseded indices, so this remains
// answerable for older indices even after RatchetKey has moved the
// newest slot forward (invariant: setKey(k,i,P) then exportKey(P,i)
// returns k for at least the next keyRingSize-1 installs).
func (p *Provider) ExportKey(participantID string, keyIndex int) (KeyHandle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.byID[participantID]
	if !ok {
		return KeyHandle{}, false
	}
	h, ok := r.slots[keyIndex]
	if !ok {
		return KeyHandle{}, false
	}
	return *h, true
}

// LatestKeyIndex returns the newest installed key index for participantID,
// the way a frame-cryptor hook resolves which index to address when it
// wasn't handed one explicitly up front (e.g. a receiver cryptor attached
// before it has seen this participant's most recent rotation).
func (p *Provider) LatestKeyIndex(participantID string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.byID[participantID]
	if !ok {
		return 0, false
	}
	h, ok := latest(r)
	if !ok {
		return 0, false
	}
	return h.Index, true
}

func latest(r *ring) (KeyHandle, bool) {
	if r.order.Len() == 0 {
		return KeyHandle{}, false
	}
	return *r.slots[r.order.Back().Value.(int)], true
}

// lookup finds the handle for keyIndex in the participant's ring (the
// shared ring in Shared mode). An unknown keyIndex is reported as not
// found; there is no fallback to another handle.
func (p *Provider) lookup(participantID string, keyIndex int) (*KeyHandle, bool) {
	var r *ring
	if p.mode == rtcconfig.FrameKeyModeShared {
		r = p.shared
	} else {
		r = p.byID[participantID]
	}
	if r == nil {
		return nil, false
	}
	if h, ok := r.slots[keyIndex]; ok {
		return h, true
	}
	return nil, false
}

// SealFrame encrypts one media frame under (participantID, keyIndex),
// implementing the WebRTC frame-transform encrypt hook. additionalData
// should be the frame's unencrypted header bytes (SFrame-style AAD).
// frameCounter must be unique per (participantID, keyIndex, version) —
// e.g. the RTP sender's running packet/frame count — since it is the only
// per-call input to the AEAD nonce; the caller is expected to carry it
// alongside the ciphertext (as SFrame does in its own frame header) so
// OpenFrame can be given the same value.
func (p *Provider) SealFrame(participantID string, keyIndex int, frameCounter uint64, frame, additionalData []byte) ([]byte, error) {
	p.mu.RLock()
	h, ok := p.lookup(participantID, keyIndex)
	p.mu.RUnlock()
	if !ok {
		if p.cfg.DiscardFrameWhenCryptorNotReady {
			return nil, rtcerr.New(rtcerr.KindMissingCryptoPayload, "frame key not ready, discarding frame")
		}
		return append([]byte(p.cfg.UncryptedMagicBytes), frame...), nil
	}

	aead, err := newFrameAEAD(h.Key)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindMediaError, "build frame aead", err)
	}
	nonce := frameNonce(participantID, keyIndex, h.Version, frameCounter)
	return aead.Seal(nil, nonce[:aead.NonceSize()], frame, additionalData), nil
}

// OpenFrame decrypts one media frame under (participantID, keyIndex).
// frameCounter must be the same value the sender passed to SealFrame for
// this frame. failureTolerance (from FrameCryptorConfig) bounds how the
// caller should react to repeated decrypt failures; this function itself
// always reports the error and lets the caller track toleration.
func (p *Provider) OpenFrame(participantID string, keyIndex int, frameCounter uint64, ciphertext, additionalData []byte) ([]byte, error) {
	p.mu.RLock()
	h, ok := p.lookup(participantID, keyIndex)
	p.mu.RUnlock()
	if !ok {
		return nil, rtcerr.New(rtcerr.KindMissingCryptoPayload, "no key for participant/keyIndex")
	}

	aead, err := newFrameAEAD(h.Key)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindMediaError, "build frame aead", err)
	}
	nonce := frameNonce(participantID, keyIndex, h.Version, frameCounter)
	plaintext, err := aead.Open(nil, nonce[:aead.NonceSize()], ciphertext, additionalData)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindMediaError, "open frame", err)
	}
	return plaintext, nil
}

func newFrameAEAD(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// frameNonce derives a nonce unique per (participant, index, version,
// frameCounter): version changes on every ratchet so old and new key
// material never share a nonce space, and frameCounter must not repeat
// within one version's lifetime (the caller's job — see SealFrame).
func frameNonce(participantID string, keyIndex int, version, frameCounter uint64) [12]byte {
	h := sha256.New()
	h.Write([]byte(participantID))
	h.Write([]byte{byte(keyIndex)})
	var vb [8]byte
	for i := 0; i < 8; i++ {
		vb[i] = byte(version >> (8 * i))
	}
	h.Write(vb[:])
	var fb [8]byte
	for i := 0; i < 8; i++ {
		fb[i] = byte(frameCounter >> (8 * i))
	}
	h.Write(fb[:])
	sum := h.Sum(nil)
	var nonce [12]byte
	copy(nonce[:], sum[:12])
	return nonce
}
