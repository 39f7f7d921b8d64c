package framekey

import (
	"bytes"
	"testing"

	"github.com/pqsrtc/sdk-go/rtcconfig"
)

func testConfig() rtcconfig.FrameCryptorConfig {
	cfg := rtcconfig.DefaultFrameCryptorConfig()
	cfg.KeyRingSize = 2
	return cfg
}

func TestSealOpenRoundTrip(t *testing.T) {
	p := NewProvider(rtcconfig.FrameKeyModePerParticipant, testConfig())
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	p.SetKey("alice", key, 1)

	frame := []byte("hello frame")
	aad := []byte("header-aad")
	ct, err := p.SealFrame("alice", 1, 0, frame, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	pt, err := p.OpenFrame("alice", 1, 0, ct, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(pt, frame) {
		t.Fatalf("round trip mismatch: got %q want %q", pt, frame)
	}
}

func TestOpenFrameFailsForUnknownKeyIndex(t *testing.T) {
	p := NewProvider(rtcconfig.FrameKeyModePerParticipant, testConfig())
	if _, err := p.OpenFrame("alice", 99, 0, []byte("x"), nil); err == nil {
		t.Fatal("expected error opening with an unknown key index")
	}
}

func TestSharedModeIgnoresParticipantID(t *testing.T) {
	p := NewProvider(rtcconfig.FrameKeyModeShared, testConfig())
	var key [32]byte
	copy(key[:], []byte("shared-key-shared-key-shared-key"))
	p.SetSharedKey(key, 0)

	ct, err := p.SealFrame("alice", 0, 0, []byte("m"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := p.OpenFrame("bob", 0, 0, ct, nil); err != nil {
		t.Fatalf("expected bob to open a frame sealed under the shared key: %v", err)
	}
}

func TestRatchetKeyAdvancesIndexAndKey(t *testing.T) {
	p := NewProvider(rtcconfig.FrameKeyModePerParticipant, testConfig())
	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))
	p.SetKey("alice", key, 0)

	next, idx, err := p.RatchetKey("alice")
	if err != nil {
		t.Fatalf("ratchet: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected ratcheted index 1, got %d", idx)
	}
	if next == key {
		t.Fatal("expected ratcheted key to differ from the seed key")
	}
	exported, ok := p.ExportKey("alice", 1)
	if !ok || exported.Index != 1 || exported.Key != next {
		t.Fatalf("expected export to reflect the freshly ratcheted key, got %+v", exported)
	}
	seed, ok := p.ExportKey("alice", 0)
	if !ok || seed.Key != key {
		t.Fatalf("expected the superseded index 0 to remain exportable, got %+v", seed)
	}
}

func TestKeyRingEvictsOldestBeyondCapacity(t *testing.T) {
	p := NewProvider(rtcconfig.FrameKeyModePerParticipant, testConfig()) // KeyRingSize: 2
	var key [32]byte
	p.SetKey("alice", key, 0)
	p.SetKey("alice", key, 1)
	p.SetKey("alice", key, 2)

	if _, err := p.SealFrame("alice", 0, 0, []byte("x"), nil); err == nil {
		t.Fatal("expected key index 0 to have been evicted once the ring exceeded capacity")
	}
}
