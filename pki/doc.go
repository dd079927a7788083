// Package pki provides the cryptographic primitives the passport is built on.
//
// Contents:
//   - Signing key pairs for Ed25519 and Dilithium3 (GenerateKeyPair, Sign, Verify).
//   - The 512-bit name hash used for every packet name (Hash).
//   - Credential-keyed obfuscation of pointers and session payloads
//     (DeriveKey, Obfuscate, Deobfuscate).
//
// All functions are pure apart from key generation, which reads randomness.
package pki
