// Package transport maintains the real-time connection to the Sonet
// messaging gateway: JSON frame codec, WebSocket dialing with bearer-token
// authentication, heartbeats, and reconnection with jittered exponential
// backoff.
//
// The transport is agnostic to message content; encrypted payloads transit
// it as opaque bytes inside frames.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/sonet-social/messaging/limits"
)

// FrameType tags a transport frame.
type FrameType string

const (
	// FrameMessage carries an encrypted chat message.
	FrameMessage FrameType = "message"
	// FrameTyping carries a typing indicator.
	FrameTyping FrameType = "typing"
	// FrameReadReceipt marks messages as read by the recipient.
	FrameReadReceipt FrameType = "read_receipt"
	// FramePresence carries presence state; it doubles as the heartbeat.
	FramePresence FrameType = "presence"
	// FrameAck acknowledges a previously received frame by reference.
	FrameAck FrameType = "ack"
	// FrameRekey carries an out-of-band re-key handshake message.
	FrameRekey FrameType = "rekey"
)

var knownFrameTypes = map[FrameType]bool{
	FrameMessage:     true,
	FrameTyping:      true,
	FrameReadReceipt: true,
	FramePresence:    true,
	FrameAck:         true,
	FrameRekey:       true,
}

// Frame is the wire unit exchanged with the gateway. Ciphertext and Nonce
// travel base64-encoded by the JSON codec; plaintext never appears here.
type Frame struct {
	Type           FrameType `json:"type"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SenderID       string    `json:"sender_id,omitempty"`
	Ciphertext     []byte    `json:"ciphertext,omitempty"`
	Nonce          []byte    `json:"nonce,omitempty"`
	Epoch          uint64    `json:"epoch,omitempty"`
	// Ref holds the ID of the frame or message being acknowledged.
	Ref string `json:"ref,omitempty"`
	// Ghost display identity for anonymous messages; never the real sender.
	GhostHandle string `json:"ghost_handle,omitempty"`
	GhostAvatar string `json:"ghost_avatar,omitempty"`
	// Payload carries type-specific extras (rekey handshake bytes, receipt
	// message lists).
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
}

// Encode serializes a frame and validates it against the frame size limit.
func (f *Frame) Encode() ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("frame type is required")
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := limits.ValidateFrame(data); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeFrame parses a received frame. The type tag is sniffed first so
// unknown or oversized input is rejected before a full decode.
func DecodeFrame(data []byte) (*Frame, error) {
	if err := limits.ValidateFrame(data); err != nil {
		return nil, err
	}

	typeField := gjson.GetBytes(data, "type")
	if !typeField.Exists() {
		return nil, fmt.Errorf("frame missing type tag")
	}
	frameType := FrameType(typeField.String())
	if !knownFrameTypes[frameType] {
		return nil, fmt.Errorf("unknown frame type %q", frameType)
	}

	frame := &Frame{}
	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("failed to decode %s frame: %w", frameType, err)
	}
	return frame, nil
}
