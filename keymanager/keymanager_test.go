package keymanager

import "testing"

func TestGenerateSenderIdentityIsIdempotentPerConnection(t *testing.T) {
	m := New("frame", nil)

	first, err := m.GenerateSenderIdentity("conn1", "alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := m.GenerateSenderIdentity("conn1", "alice")
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if first != second {
		t.Fatal("expected the same identity to be returned for an existing connection id")
	}
	if first.LocalKeys.LongTermPublic == ([32]byte{}) {
		t.Fatal("expected a non-zero generated long-term public key")
	}
}

func TestGenerateSenderIdentityIsIsolatedAcrossConnections(t *testing.T) {
	m := New("frame", nil)

	a, err := m.GenerateSenderIdentity("conn1", "alice")
	if err != nil {
		t.Fatalf("generate conn1: %v", err)
	}
	b, err := m.GenerateSenderIdentity("conn2", "alice")
	if err != nil {
		t.Fatalf("generate conn2: %v", err)
	}
	if a.LocalKeys.LongTermPublic == b.LocalKeys.LongTermPublic {
		t.Fatal("expected distinct connections to get distinct key material")
	}
}

func TestCreateRecipientIdentityRejectsShortPublicKey(t *testing.T) {
	m := New("frame", nil)
	if _, err := m.CreateRecipientIdentity("conn1", AdvertisedProps{LongTermPublic: []byte{1, 2, 3}}); err == nil {
		t.Fatal("expected an error for a long-term public key that isn't 32 bytes")
	}
}

func TestCreateRecipientIdentityAttachesBufferedCiphertext(t *testing.T) {
	m := New("frame", nil)
	m.StoreCiphertext("conn1", []byte("handshake-blob"))

	id, err := m.CreateRecipientIdentity("conn1", AdvertisedProps{LongTermPublic: make([]byte, 32)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if string(id.Ciphertext) != "handshake-blob" {
		t.Fatalf("expected the previously buffered ciphertext to be attached, got %q", id.Ciphertext)
	}
}

func TestFetchConnectionIdentityErrorsWhenMissing(t *testing.T) {
	m := New("frame", nil)
	if _, err := m.FetchConnectionIdentity("nonexistent"); err == nil {
		t.Fatal("expected an error for an identity that was never created")
	}
}

func TestFetchCiphertextReportsPresence(t *testing.T) {
	m := New("frame", nil)
	if _, ok := m.FetchCiphertext("conn1"); ok {
		t.Fatal("expected no ciphertext before one is stored")
	}
	m.StoreCiphertext("conn1", []byte("blob"))
	ct, ok := m.FetchCiphertext("conn1")
	if !ok || string(ct) != "blob" {
		t.Fatalf("expected the stored ciphertext back, got %q ok=%v", ct, ok)
	}
}

func TestRemoveConnectionIdentityDropsEverything(t *testing.T) {
	m := New("frame", nil)
	m.GenerateSenderIdentity("conn1", "alice")
	m.StoreCiphertext("conn1", []byte("blob"))
	m.CreateRecipientIdentity("conn1", AdvertisedProps{LongTermPublic: make([]byte, 32)})

	m.RemoveConnectionIdentity("conn1")

	if _, err := m.FetchConnectionIdentity("conn1"); err == nil {
		t.Fatal("expected remote identity to be gone after removal")
	}
	if _, ok := m.FetchCiphertext("conn1"); ok {
		t.Fatal("expected ciphertext to be gone after removal")
	}
	if id := m.FetchCallKeyBundle(); id != nil {
		t.Fatal("expected no local identity left after removal")
	}
}

func TestClearAllResetsEveryMap(t *testing.T) {
	m := New("frame", nil)
	m.GenerateSenderIdentity("conn1", "alice")
	m.GenerateSenderIdentity("conn2", "bob")

	m.ClearAll()

	if id := m.FetchCallKeyBundle(); id != nil {
		t.Fatal("expected no local identities to remain after ClearAll")
	}
}
