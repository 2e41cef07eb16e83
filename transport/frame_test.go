package transport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sonet-social/messaging/limits"
)

// TestFrameRoundTrip verifies a message frame survives encode and decode with
// its binary fields intact.
func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	original := &Frame{
		Type:           FrameMessage,
		ID:             "msg-001",
		ConversationID: "conv-abc",
		SenderID:       "alice",
		Ciphertext:     []byte{0x01, 0x02, 0xff, 0x00},
		Nonce:          bytes.Repeat([]byte{0xaa}, 24),
		Epoch:          3,
		CreatedAt:      time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	data, err := original.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if decoded.Type != original.Type || decoded.ID != original.ID {
		t.Errorf("identity fields changed: got %s/%s", decoded.Type, decoded.ID)
	}
	if decoded.ConversationID != original.ConversationID || decoded.SenderID != original.SenderID {
		t.Errorf("routing fields changed: got %s/%s", decoded.ConversationID, decoded.SenderID)
	}
	if !bytes.Equal(decoded.Ciphertext, original.Ciphertext) {
		t.Error("ciphertext changed across round trip")
	}
	if !bytes.Equal(decoded.Nonce, original.Nonce) {
		t.Error("nonce changed across round trip")
	}
	if decoded.Epoch != original.Epoch {
		t.Errorf("epoch = %d, want %d", decoded.Epoch, original.Epoch)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("created_at = %v, want %v", decoded.CreatedAt, original.CreatedAt)
	}
}

// TestDecodeFrameRejectsUnknownType verifies a frame with an unrecognized type
// tag is rejected without a full decode.
func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte(`{"type":"video_call","id":"x"}`))
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}
	if !strings.Contains(err.Error(), "unknown frame type") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestDecodeFrameRejectsMissingType verifies frames without a type tag fail.
func TestDecodeFrameRejectsMissingType(t *testing.T) {
	t.Parallel()

	_, err := DecodeFrame([]byte(`{"id":"x","conversation_id":"c"}`))
	if err == nil {
		t.Fatal("expected error for frame without type tag")
	}
}

// TestDecodeFrameRejectsOversized verifies the frame size limit is enforced
// before parsing.
func TestDecodeFrameRejectsOversized(t *testing.T) {
	t.Parallel()

	huge := append([]byte(`{"type":"message","id":"`), bytes.Repeat([]byte("a"), limits.MaxFrameSize)...)
	huge = append(huge, []byte(`"}`)...)

	if _, err := DecodeFrame(huge); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

// TestEncodeRequiresType verifies encoding fails fast when the type is unset.
func TestEncodeRequiresType(t *testing.T) {
	t.Parallel()

	f := &Frame{ID: "no-type"}
	if _, err := f.Encode(); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

// TestAckFrameCarriesRef verifies the acknowledgement reference survives the
// codec; heartbeat correlation depends on it.
func TestAckFrameCarriesRef(t *testing.T) {
	t.Parallel()

	ack := &Frame{Type: FrameAck, ID: "ack-1", Ref: "hb-42"}
	data, err := ack.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if decoded.Ref != "hb-42" {
		t.Errorf("Ref = %q, want hb-42", decoded.Ref)
	}
}
