// Package server exposes a ledger.Blockchain over HTTP.
//
// Routes:
//
//	GET  /healthz               liveness and chain length
//	GET  /chain                 every block in order
//	GET  /validate              integrity report
//	POST /records               add a record (form or JSON: name, roll, gpa)
//	POST /records/verify        look up a record
//	POST /certificates          add a certificate (multipart field "file")
//	POST /certificates/verify   look up a certificate by file or "fingerprint"
//
// Writes go through Blockchain.Commit, so a block is appended and persisted
// under one lock and concurrent readers never see an unsaved tail.
package server
