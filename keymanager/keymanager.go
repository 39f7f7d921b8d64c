// Package keymanager is the single source of truth for local and remote
// ratchet identity material (component C1 of the design). Two independent
// KeyManager instances exist per CallSession: one for media-frame identities
// and one for signaling identities; they share this implementation but
// never share storage.
//
// Key generation leans on real post-quantum and classical primitives rather
// than reimplementing them: long-term/one-time keys are Curve25519
// (golang.org/x/crypto/curve25519), and the post-quantum leg is ML-KEM-768
// (github.com/cloudflare/circl/kem/mlkem/mlkem768). Combining those into a
// PQXDH shared secret is left to the ratchet primitive the SDK wraps
// (package ratchet) — generating key material is in scope, the handshake
// math is not (§1 Non-goals). This package performs no KEM encapsulation;
// a handshake ciphertext is only stored as supplied by the caller.
package keymanager

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/pion/logging"
	"golang.org/x/crypto/curve25519"

	"github.com/pqsrtc/sdk-go/rtcerr"
)

// LocalKeys is the long-term identity material a device generates for
// itself. OneTime is optional per-session entropy; it may be nil once
// consumed.
type LocalKeys struct {
	LongTermPrivate [32]byte
	LongTermPublic  [32]byte
	OneTimePrivate  *[32]byte
	OneTimePublic   *[32]byte
	KEMPrivate      *mlkem768.PrivateKey
	KEMPublic       *mlkem768.PublicKey
}

// RemoteKeys is the advertised identity material for a peer device.
type RemoteKeys struct {
	LongTermPublic [32]byte
	OneTimePublic  *[32]byte
	KEMPublic      *mlkem768.PublicKey
}

// ConnectionLocalIdentity is the per-connection identity owned by this
// device, created lazily and destroyed on teardown.
type ConnectionLocalIdentity struct {
	ConnectionID    string
	LocalKeys       LocalKeys
	SymmetricKey    [32]byte
	SessionIdentity string
}

// ConnectionSessionIdentity is the remote side of a connection's identity.
// Ciphertext, when present, is a buffered PQXDH handshake blob received
// before the session's ratchet could be initialized.
type ConnectionSessionIdentity struct {
	ConnectionID    string
	SymmetricKey    [32]byte
	SessionIdentity string
	Ciphertext      []byte
}

// AdvertisedProps is what a peer publishes about its identity (mirrors
// model.IdentityProps but keeps this package free of a model import cycle).
type AdvertisedProps struct {
	LongTermPublic []byte
	OneTimePublic  []byte
	KEMPublic      []byte
}

// Manager owns one identity axis (media-frame or signaling) for the
// lifetime of a device. All mutating operations are serialized through a
// single mutex, matching the actor discipline in §5: every exported method
// takes the lock for its full body, so callers never observe a partial
// update to local/remote/ciphertext state.
type Manager struct {
	log logging.LeveledLogger

	mu         sync.Mutex
	local      map[string]*ConnectionLocalIdentity
	remote     map[string]*ConnectionSessionIdentity
	ciphertext map[string][]byte
}

// New constructs an identity manager. axis is used only for log context
// ("frame" or "signaling").
func New(axis string, logger logging.LeveledLogger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("keymanager")
	}
	return &Manager{
		log:        logger,
		local:      make(map[string]*ConnectionLocalIdentity),
		remote:     make(map[string]*ConnectionSessionIdentity),
		ciphertext: make(map[string][]byte),
	}
}

// GenerateSenderIdentity is idempotent: if a local identity already exists
// for connectionID it is returned unchanged.
func (m *Manager) GenerateSenderIdentity(connectionID, secretName string) (*ConnectionLocalIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.local[connectionID]; ok {
		return id, nil
	}

	lk, err := generateLocalKeys()
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidConfiguration, "generate local keys", err)
	}

	var sym [32]byte
	if _, err := rand.Read(sym[:]); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidConfiguration, "sample session symmetric key", err)
	}

	id := &ConnectionLocalIdentity{
		ConnectionID:    connectionID,
		LocalKeys:       *lk,
		SymmetricKey:    sym,
		SessionIdentity: sessionIdentityFor(connectionID, secretName),
	}
	m.local[connectionID] = id
	m.log.Debugf("generated sender identity for connection %s", connectionID)
	return id, nil
}

// CreateRecipientIdentity builds a remote session identity from advertised
// props.
func (m *Manager) CreateRecipientIdentity(connectionID string, props AdvertisedProps) (*ConnectionSessionIdentity, error) {
	if len(props.LongTermPublic) != 32 {
		return nil, rtcerr.New(rtcerr.KindMissingProps, "remote long-term public key must be 32 bytes")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var sym [32]byte
	if _, err := rand.Read(sym[:]); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindInvalidConfiguration, "sample remote symmetric key", err)
	}

	id := &ConnectionSessionIdentity{
		ConnectionID:    connectionID,
		SymmetricKey:    sym,
		SessionIdentity: sessionIdentityFor(connectionID, "remote"),
	}
	if ct, ok := m.ciphertext[connectionID]; ok {
		id.Ciphertext = ct
	}
	m.remote[connectionID] = id
	return id, nil
}

// FetchCallKeyBundle returns one local identity owned by this manager, if
// any exists. With several connections, which one is returned is not
// defined (map iteration order). Returns nil when none exists.
func (m *Manager) FetchCallKeyBundle() *ConnectionLocalIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.local {
		return id
	}
	return nil
}

// FetchConnectionIdentity returns the remote identity for connectionID, or
// a missingSessionIdentity error if none exists yet.
func (m *Manager) FetchConnectionIdentity(connectionID string) (*ConnectionSessionIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.remote[connectionID]
	if !ok {
		return nil, rtcerr.New(rtcerr.KindMissingSessionIdentity, connectionID)
	}
	return id, nil
}

// FetchConnectionIdentityByConnectionID is an alias kept distinct from
// FetchConnectionIdentity per §4.1 so callers that key by id explicitly
// read clearly at call sites.
func (m *Manager) FetchConnectionIdentityByConnectionID(connectionID string) (*ConnectionSessionIdentity, error) {
	return m.FetchConnectionIdentity(connectionID)
}

// StoreCiphertext buffers a PQXDH handshake blob until the remote ratchet
// can be initialized.
func (m *Manager) StoreCiphertext(connectionID string, ciphertext []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append([]byte(nil), ciphertext...)
	m.ciphertext[connectionID] = buf
	if id, ok := m.remote[connectionID]; ok {
		id.Ciphertext = buf
	}
}

// FetchCiphertext returns the buffered handshake blob for connectionID, if
// any.
func (m *Manager) FetchCiphertext(connectionID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct, ok := m.ciphertext[connectionID]
	return ct, ok
}

// RemoveConnectionIdentity drops all identity material for connectionID,
// including any buffered ciphertext. Safe to call more than once.
func (m *Manager) RemoveConnectionIdentity(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.local, connectionID)
	delete(m.remote, connectionID)
	delete(m.ciphertext, connectionID)
}

// ClearAll drops every identity this manager owns.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = make(map[string]*ConnectionLocalIdentity)
	m.remote = make(map[string]*ConnectionSessionIdentity)
	m.ciphertext = make(map[string][]byte)
}

func generateLocalKeys() (*LocalKeys, error) {
	var priv, oneTimePriv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(oneTimePriv[:]); err != nil {
		return nil, err
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	oneTimePub, err := curve25519.X25519(oneTimePriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kemPub, kemPriv, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}

	var pubArr, oneTimePubArr [32]byte
	copy(pubArr[:], pub)
	copy(oneTimePubArr[:], oneTimePub)

	return &LocalKeys{
		LongTermPrivate: priv,
		LongTermPublic:  pubArr,
		OneTimePrivate:  &oneTimePriv,
		OneTimePublic:   &oneTimePubArr,
		KEMPrivate:      kemPriv,
		KEMPublic:       kemPub,
	}, nil
}

func sessionIdentityFor(connectionID, tag string) string {
	return fmt.Sprintf("%s:%s", connectionID, tag)
}
