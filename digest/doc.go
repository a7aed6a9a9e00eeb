// Package digest maps student records and certificate files to fixed-length
// fingerprints.
//
// Fingerprints are SHA-256 digests taken from the Ed25519 kyber suite and
// encoded as 64 lower-case hex characters. Record fields are length-prefixed
// before hashing, so ("Alice", "101", "3.9") and ("Alice1", "01", "3.9")
// never produce the same input bytes. File fingerprints hash the raw bytes
// with no framing.
package digest
