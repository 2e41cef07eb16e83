package keyexchange

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/sonet-social/messaging/crypto"
	"github.com/sonet-social/messaging/limits"
)

// The re-key exchange runs when a peer references an epoch the local side no
// longer holds. The requester initiates a Noise-IK handshake against the
// peer's published identity key; the responder's reply carries a fresh random
// session seed under the handshake's encryption, so a relay that forwards the
// rekey frames learns nothing about the new epoch's key material.

var noiseSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// RekeyRequest is the initiator side of a re-key exchange for one
// conversation epoch.
type RekeyRequest struct {
	ConversationID string
	Epoch          uint64

	hs *noise.HandshakeState
}

// NewRekeyRequest starts a re-key exchange. The returned message is embedded
// in a rekey frame addressed to the peer.
func NewRekeyRequest(conversationID string, epoch uint64, local *Identity, peerPK [32]byte) (*RekeyRequest, []byte, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: local.KeyPair.Private[:],
			Public:  local.KeyPair.Public[:],
		},
		PeerStatic: peerPK[:],
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rekey handshake: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write rekey request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "NewRekeyRequest",
		"conversation_id": conversationID,
		"epoch":           epoch,
	}).Info("Initiated re-key exchange")

	return &RekeyRequest{ConversationID: conversationID, Epoch: epoch, hs: hs}, msg, nil
}

// Finish consumes the responder's reply and returns the freshly seeded
// session for the requested epoch.
func (rr *RekeyRequest) Finish(reply []byte, now time.Time) (*crypto.Session, error) {
	if err := limits.ValidateMessageSize(reply, limits.MaxFrameSize); err != nil {
		return nil, fmt.Errorf("invalid rekey reply: %w", err)
	}

	payload, _, _, err := rr.hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("rekey reply rejected: %w", err)
	}
	if len(payload) != 32 {
		return nil, errors.New("rekey reply carried malformed session seed")
	}

	var key [32]byte
	copy(key[:], payload)
	crypto.ZeroBytes(payload)

	return crypto.NewSession(rr.ConversationID, key, rr.Epoch, now), nil
}

// RespondRekey handles the responder side: it consumes the initiator's
// message, generates a fresh session seed, and returns both the reply to send
// back and the responder's own copy of the new session.
func RespondRekey(conversationID string, epoch uint64, local *Identity, request []byte, now time.Time) ([]byte, *crypto.Session, error) {
	if err := limits.ValidateMessageSize(request, limits.MaxFrameSize); err != nil {
		return nil, nil, fmt.Errorf("invalid rekey request: %w", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: noiseSuite,
		Random:      rand.Reader,
		Pattern:     noise.HandshakeIK,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: local.KeyPair.Private[:],
			Public:  local.KeyPair.Public[:],
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rekey responder: %w", err)
	}

	if _, _, _, err := hs.ReadMessage(nil, request); err != nil {
		return nil, nil, fmt.Errorf("rekey request rejected: %w", err)
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate session seed: %w", err)
	}

	reply, _, _, err := hs.WriteMessage(nil, seed[:])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write rekey reply: %w", err)
	}

	session := crypto.NewSession(conversationID, seed, epoch, now)
	crypto.ZeroBytes(seed[:])

	logrus.WithFields(logrus.Fields{
		"function":        "RespondRekey",
		"conversation_id": conversationID,
		"epoch":           epoch,
	}).Info("Answered re-key exchange")

	return reply, session, nil
}
