// Package keyexchange implements identity key management and per-conversation
// session derivation for Sonet messaging.
//
// Identities are long-term X25519 keypairs persisted encrypted at rest.
// Public keys are published to and fetched from the key directory REST
// service. Session keys are derived independently by both parties via X25519
// key agreement followed by HKDF-SHA256 seeded with both public keys and the
// conversation identifier, so the session key itself is never transmitted.
//
// When a peer references a session epoch the local side no longer holds, the
// out-of-band re-key exchange in this package establishes fresh key material
// over a Noise-IK handshake.
package keyexchange
