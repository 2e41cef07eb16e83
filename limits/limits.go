package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintextMessage is the Sonet limit for plaintext message bodies.
	MaxPlaintextMessage = 4096

	// AEADOverhead is the overhead added by XChaCha20-Poly1305 encryption,
	// the Poly1305 tag appended by Seal(). The 24-byte nonce travels in the
	// frame header, not in the ciphertext.
	AEADOverhead = 16

	// MaxCiphertextMessage is the maximum size after encryption overhead.
	MaxCiphertextMessage = MaxPlaintextMessage + AEADOverhead

	// MaxFrameSize is the maximum size of a serialized transport frame,
	// including the JSON envelope around the base64 ciphertext.
	MaxFrameSize = 16384

	// MaxProcessingBuffer is the absolute maximum for any operation.
	// This prevents memory exhaustion from untrusted input (1MB limit).
	MaxProcessingBuffer = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePlaintextMessage validates a plaintext message body against
// MaxPlaintextMessage.
func ValidatePlaintextMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxPlaintextMessage {
		return fmt.Errorf("%w: plaintext size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxPlaintextMessage)
	}
	return nil
}

// ValidateCiphertextMessage validates an encrypted message body against
// MaxCiphertextMessage.
func ValidateCiphertextMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxCiphertextMessage {
		return fmt.Errorf("%w: ciphertext size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxCiphertextMessage)
	}
	return nil
}

// ValidateFrame validates a serialized transport frame against MaxFrameSize.
func ValidateFrame(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxFrameSize)
	}
	return nil
}

// ValidateProcessingBuffer validates data against the absolute maximum
// (MaxProcessingBuffer). This should be used for all untrusted input.
func ValidateProcessingBuffer(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxProcessingBuffer {
		return fmt.Errorf("%w: buffer size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxProcessingBuffer)
	}
	return nil
}
