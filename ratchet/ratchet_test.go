package ratchet

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func genKeypair(t *testing.T) (priv [32]byte, pub []byte) {
	t.Helper()
	if _, err := rand.Read(priv[:]); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	return priv, p
}

func TestSenderRecipientRoundTrip(t *testing.T) {
	recipientPriv, recipientPub := genKeypair(t)

	var sk [32]byte
	if _, err := rand.Read(sk[:]); err != nil {
		t.Fatalf("sample shared secret: %v", err)
	}

	sender, err := SenderInitialization("pair1", sk[:], recipientPub)
	if err != nil {
		t.Fatalf("sender init: %v", err)
	}
	recipient, err := RecipientInitialization("pair1", sk[:], recipientPriv[:])
	if err != nil {
		t.Fatalf("recipient init: %v", err)
	}

	plaintext := []byte("hello over the ratchet")
	aad := []byte("pair1")
	sealed, err := sender.RatchetEncrypt(plaintext, aad)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := recipient.RatchetDecrypt(sealed, aad)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}

func TestSenderRecipientRoundTripAcrossMultipleMessages(t *testing.T) {
	recipientPriv, recipientPub := genKeypair(t)
	var sk [32]byte
	rand.Read(sk[:])

	sender, err := SenderInitialization("pair2", sk[:], recipientPub)
	if err != nil {
		t.Fatalf("sender init: %v", err)
	}
	recipient, err := RecipientInitialization("pair2", sk[:], recipientPriv[:])
	if err != nil {
		t.Fatalf("recipient init: %v", err)
	}

	for i := 0; i < 3; i++ {
		plaintext := []byte{byte(i), byte(i + 1)}
		sealed, err := sender.RatchetEncrypt(plaintext, []byte("pair2"))
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		opened, err := recipient.RatchetDecrypt(sealed, []byte("pair2"))
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Fatalf("message %d mismatch: got %v want %v", i, opened, plaintext)
		}
	}
}

func TestRecipientDecryptFailsWithWrongAdditionalData(t *testing.T) {
	recipientPriv, recipientPub := genKeypair(t)
	var sk [32]byte
	rand.Read(sk[:])

	sender, _ := SenderInitialization("pair3", sk[:], recipientPub)
	recipient, _ := RecipientInitialization("pair3", sk[:], recipientPriv[:])

	sealed, err := sender.RatchetEncrypt([]byte("msg"), []byte("pair3"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := recipient.RatchetDecrypt(sealed, []byte("wrong-aad")); err == nil {
		t.Fatal("expected decryption to fail with mismatched additional data")
	}
}

func TestShutdownRejectsFurtherUse(t *testing.T) {
	recipientPriv, recipientPub := genKeypair(t)
	var sk [32]byte
	rand.Read(sk[:])

	sender, _ := SenderInitialization("pair4", sk[:], recipientPub)
	sender.Shutdown()

	if _, err := sender.RatchetEncrypt([]byte("x"), nil); err != ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
