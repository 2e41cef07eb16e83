// Package limits defines the message and frame size limits shared by the
// Sonet messaging components.
//
// All size validation of message bodies, ciphertexts, and transport frames
// goes through this package so that the cipher, offline queue, and transport
// agree on what is acceptable input.
package limits
