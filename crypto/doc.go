// Package crypto implements the cryptographic core of Sonet messaging.
//
// It provides X25519 identity keypairs, per-conversation session keys with
// epoch-based rotation, and authenticated encryption of message payloads
// using XChaCha20-Poly1305.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
//
// Plaintext exists only transiently inside Encrypt/Decrypt; session key
// material is wiped when a session is retired.
package crypto
