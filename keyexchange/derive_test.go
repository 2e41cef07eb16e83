package keyexchange

import (
	"errors"
	"testing"
	"time"

	"github.com/sonet-social/messaging/crypto"
)

func testIdentity(t *testing.T, userID string) *Identity {
	t.Helper()
	id, err := GenerateIdentity(userID)
	if err != nil {
		t.Fatalf("GenerateIdentity(%s) failed: %v", userID, err)
	}
	return id
}

// TestDeriveSessionBothSidesAgree verifies user A and user B independently
// derive the same session key and fingerprint for one conversation.
func TestDeriveSessionBothSidesAgree(t *testing.T) {
	t.Parallel()

	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	svc := NewService(nil, 0, 0)

	aliceSession, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession(alice) failed: %v", err)
	}
	bobSession, err := svc.DeriveSession("C1", bob, alice.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession(bob) failed: %v", err)
	}

	if aliceSession.Key != bobSession.Key {
		t.Fatal("Derived session keys differ between the two parties")
	}

	aliceFP := crypto.SessionFingerprint(aliceSession.Key, "C1")
	bobFP := crypto.SessionFingerprint(bobSession.Key, "C1")
	if !aliceFP.Equal(bobFP) {
		t.Error("Computed fingerprints differ between the two parties")
	}

	if err := svc.VerifyFingerprint(aliceSession, bobFP); err != nil {
		t.Errorf("VerifyFingerprint failed on matching fingerprints: %v", err)
	}
}

// TestDeriveSessionKeysVaryByContext verifies different conversations and
// epochs yield unrelated keys from the same identities.
func TestDeriveSessionKeysVaryByContext(t *testing.T) {
	t.Parallel()

	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	svc := NewService(nil, 0, 0)

	base, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}

	otherConv, err := svc.DeriveSession("C2", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}
	if base.Key == otherConv.Key {
		t.Error("Different conversations derived the same session key")
	}

	otherEpoch, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 1)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}
	if base.Key == otherEpoch.Key {
		t.Error("Different epochs derived the same session key")
	}
}

// TestVerifyFingerprintMismatch verifies a stale or attacked session fails
// with ErrKeyVerificationMismatch.
func TestVerifyFingerprintMismatch(t *testing.T) {
	t.Parallel()

	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	mallory := testIdentity(t, "mallory")
	svc := NewService(nil, 0, 0)

	aliceSession, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}
	// Bob's view was poisoned with mallory's key instead of alice's.
	bobSession, err := svc.DeriveSession("C1", bob, mallory.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}

	bobFP := crypto.SessionFingerprint(bobSession.Key, "C1")
	err = svc.VerifyFingerprint(aliceSession, bobFP)
	if !errors.Is(err, ErrKeyVerificationMismatch) {
		t.Errorf("VerifyFingerprint error = %v, want ErrKeyVerificationMismatch", err)
	}
}

// TestDeriveSessionAppliesPolicy verifies the configured volume bound lands
// on derived sessions.
func TestDeriveSessionAppliesPolicy(t *testing.T) {
	t.Parallel()

	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	svc := NewService(nil, 0, 42)

	session, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}
	if session.MaxMessages != 42 {
		t.Errorf("MaxMessages = %d, want 42", session.MaxMessages)
	}
}

// TestDeriveSessionAppliesLifetime verifies the configured time bound lands
// on derived sessions.
func TestDeriveSessionAppliesLifetime(t *testing.T) {
	t.Parallel()

	alice := testIdentity(t, "alice")
	bob := testIdentity(t, "bob")
	svc := NewService(nil, 2*time.Hour, 0)

	session, err := svc.DeriveSession("C1", alice, bob.KeyPair.Public, 0)
	if err != nil {
		t.Fatalf("DeriveSession failed: %v", err)
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != 2*time.Hour {
		t.Errorf("session lifetime = %v, want 2h", got)
	}
	if session.ShouldRotate(session.CreatedAt.Add(time.Hour)) {
		t.Error("session rotated before its configured lifetime")
	}
	if !session.ShouldRotate(session.CreatedAt.Add(2*time.Hour + time.Second)) {
		t.Error("session did not rotate after its configured lifetime")
	}
}
