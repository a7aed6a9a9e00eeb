// Package ledger implements an append-only, tamper-evident chain of academic
// record fingerprints.
//
// # Core Components
//
// Blockchain: the ordered chain. It is seeded with a genesis block and only
// ever grows at the tail.
//
// Block: one entry holding a tagged payload (a record fingerprint or a
// certificate fingerprint), its timestamp, the previous block's hash and its
// own hash.
//
// Store: durable storage. FileStore keeps the chain as a JSON array and
// replaces it atomically on every save.
//
// # Integrity
//
// Each block's hash covers its index, timestamp, kind, payload and previous
// hash. Validate walks the chain and reports the first block whose stored
// hash no longer matches its fields (hash-mismatch), whose previous hash does
// not match its predecessor (link-mismatch), or whose index is out of place
// (index-mismatch). Violations are reported as values, the chain stays loaded.
//
// # Trust on load, verify on demand
//
// Restore keeps the hashes found in the snapshot as they are. Recomputing them
// while loading would silently accept an edited snapshot; keeping them lets
// Validate flag the edit. FindRecord and FindCertificate are lookups only and
// succeed on a tampered chain, so callers that need both answers must ask both
// questions.
package ledger
