package ledger

import (
	"errors"
	"fmt"
)

// ErrIntegrity is matched by every *IntegrityError.
var ErrIntegrity = errors.New("chain integrity violated")

// Reason identifies which check a block failed.
type Reason string

const (
	// ReasonHashMismatch: the stored hash differs from the hash of the
	// block's own fields.
	ReasonHashMismatch Reason = "hash-mismatch"
	// ReasonLinkMismatch: previous_hash differs from the predecessor's hash.
	ReasonLinkMismatch Reason = "link-mismatch"
	// ReasonIndexMismatch: the stored index differs from the block position.
	ReasonIndexMismatch Reason = "index-mismatch"
)

// Report is the outcome of Validate. When Valid is false, Index and Reason
// describe the first failing block.
type Report struct {
	Valid  bool   `json:"valid"`
	Index  int    `json:"index,omitempty"`
	Reason Reason `json:"reason,omitempty"`
}

// Err converts an invalid report into an *IntegrityError, and returns nil
// for a valid one.
func (r Report) Err() error {
	if r.Valid {
		return nil
	}
	return &IntegrityError{Index: r.Index, Reason: r.Reason}
}

// IntegrityError describes the first block that failed validation.
type IntegrityError struct {
	Index  int
	Reason Reason
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("block %d invalid: %s", e.Index, e.Reason)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}
