package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luca-patrignani/edu-ledger/digest"
)

// ErrNoStore is returned by Persist and Restore on a chain without storage.
var ErrNoStore = errors.New("ledger has no store")

// Blockchain is an append-only chain of record fingerprints.
//
// Mutations take the write lock and views take the read lock. Commit keeps
// the write lock across append and persist, so no reader observes a tail
// that is not yet on disk.
type Blockchain struct {
	mu     sync.RWMutex
	blocks []Block
	store  Store
	clock  func() time.Time
}

// Option configures a Blockchain.
type Option func(*Blockchain)

// WithClock replaces time.Now as the source of block timestamps.
func WithClock(clock func() time.Time) Option {
	return func(bc *Blockchain) {
		bc.clock = clock
	}
}

// NewBlockchain creates a chain holding only the genesis block. store may be
// nil for a purely in-memory chain.
func NewBlockchain(store Store, opts ...Option) *Blockchain {
	bc := &Blockchain{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(bc)
	}
	bc.blocks = []Block{newGenesis(epochSeconds(bc.clock()))}
	return bc
}

// Open creates a chain and restores it from store.
func Open(store Store, opts ...Option) (*Blockchain, error) {
	bc := NewBlockchain(store, opts...)
	if err := bc.Restore(); err != nil {
		return nil, err
	}
	return bc, nil
}

// Append adds a record fingerprint at the tail and returns the new block.
func (bc *Blockchain) Append(payload string) Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.appendLocked(KindRecord, payload)
}

// AppendCertificate adds a certificate fingerprint at the tail.
func (bc *Blockchain) AppendCertificate(fp digest.Fingerprint) Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.appendLocked(KindCertificate, fp.String())
}

// Commit appends a block and persists the chain under a single lock. A
// failed persist is returned, but the block stays in memory and is written
// by the next successful persist.
func (bc *Blockchain) Commit(kind Kind, payload string) (Block, error) {
	if kind != KindRecord && kind != KindCertificate {
		return Block{}, fmt.Errorf("cannot commit a block of kind %q", kind)
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	b := bc.appendLocked(kind, payload)
	if err := bc.persistLocked(); err != nil {
		return b, err
	}
	return b, nil
}

// AddRecord fingerprints a student record and commits it.
func (bc *Blockchain) AddRecord(name, roll, gpa string) (Block, error) {
	return bc.Commit(KindRecord, digest.Record(name, roll, gpa).String())
}

// AddCertificate fingerprints certificate content and commits it.
func (bc *Blockchain) AddCertificate(content []byte) (Block, error) {
	return bc.Commit(KindCertificate, digest.File(content).String())
}

func (bc *Blockchain) appendLocked(kind Kind, payload string) Block {
	latest := bc.blocks[len(bc.blocks)-1]
	b := newBlock(len(bc.blocks), epochSeconds(bc.clock()), kind, payload, latest.Hash)
	bc.blocks = append(bc.blocks, b)
	return b
}

// Len returns the number of blocks, genesis included.
func (bc *Blockchain) Len() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return len(bc.blocks)
}

// Latest returns the tail block.
func (bc *Blockchain) Latest() Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.blocks[len(bc.blocks)-1]
}

// GetByIndex returns the block at position index.
func (bc *Blockchain) GetByIndex(index int) (Block, error) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if index < 0 || index >= len(bc.blocks) {
		return Block{}, fmt.Errorf("index %d out of range [0, %d)", index, len(bc.blocks))
	}
	return bc.blocks[index], nil
}

// Blocks returns a copy of the whole chain in order.
func (bc *Blockchain) Blocks() []Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	out := make([]Block, len(bc.blocks))
	copy(out, bc.blocks)
	return out
}

// Validate checks every block after genesis, in order, and reports the
// first one whose stored hash, link to its predecessor, or index is wrong.
// It never modifies the chain.
func (bc *Blockchain) Validate() Report {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	for i := 1; i < len(bc.blocks); i++ {
		if reason, ok := validateBlock(bc.blocks[i], bc.blocks[i-1], i); !ok {
			return Report{Valid: false, Index: i, Reason: reason}
		}
	}
	return Report{Valid: true}
}

func validateBlock(current, previous Block, position int) (Reason, bool) {
	if current.Hash != current.computeHash() {
		return ReasonHashMismatch, false
	}
	if current.PrevHash != previous.Hash {
		return ReasonLinkMismatch, false
	}
	if current.Index != position {
		return ReasonIndexMismatch, false
	}
	return "", true
}

// FindRecord looks for the lowest block holding the fingerprint of the given
// record. It does not check chain integrity; call Validate for that.
func (bc *Blockchain) FindRecord(name, roll, gpa string) (Block, bool) {
	return bc.find(KindRecord, digest.Record(name, roll, gpa).String())
}

// FindCertificate reports whether a certificate with fingerprint fp was
// recorded. Only certificate blocks with an identical payload match.
func (bc *Blockchain) FindCertificate(fp digest.Fingerprint) (Block, bool) {
	return bc.find(KindCertificate, fp.String())
}

func (bc *Blockchain) find(kind Kind, payload string) (Block, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	for _, b := range bc.blocks {
		if b.Kind == kind && b.Payload == payload {
			return b, true
		}
	}
	return Block{}, false
}

// Persist writes the whole chain, stored hashes included, to the store.
func (bc *Blockchain) Persist() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.persistLocked()
}

func (bc *Blockchain) persistLocked() error {
	if bc.store == nil {
		return ErrNoStore
	}
	if err := bc.store.Save(bc.blocks); err != nil {
		return fmt.Errorf("failed to persist chain: %w", err)
	}
	return nil
}

// Restore replaces the chain with the stored snapshot. Stored hashes are
// trusted as they are: tampering is detected later by Validate, not hidden
// by recomputation here. A missing snapshot yields a fresh genesis chain.
// A corrupt one returns an error wrapping ErrCorruptSnapshot and leaves the
// chain untouched.
func (bc *Blockchain) Restore() error {
	if bc.store == nil {
		return ErrNoStore
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()

	blocks, err := bc.store.Load()
	if errors.Is(err, ErrNoSnapshot) {
		bc.blocks = []Block{newGenesis(epochSeconds(bc.clock()))}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to restore chain: %w", err)
	}
	bc.blocks = blocks
	return nil
}
