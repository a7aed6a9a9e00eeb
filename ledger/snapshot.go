package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrNoSnapshot is returned by Store.Load when nothing was saved yet.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrCorruptSnapshot marks a snapshot that exists but cannot be parsed.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)

// Store is durable storage for a chain.
type Store interface {
	// Load returns the saved blocks in chain order, ErrNoSnapshot if there
	// are none, or an error wrapping ErrCorruptSnapshot.
	Load() ([]Block, error)
	// Save replaces the saved blocks atomically.
	Save(blocks []Block) error
}

// FileStore keeps the chain as a JSON array in a single file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path is the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes to a temporary file in the same directory and renames it over
// the snapshot, so a crash leaves either the old or the new snapshot.
func (s *FileStore) Save(blocks []Block) (err error) {
	data, err := json.MarshalIndent(blocks, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// snapshotBlock mirrors Block with pointer fields so that missing keys can be
// told apart from zero values.
type snapshotBlock struct {
	Index     *int     `json:"index"`
	Timestamp *float64 `json:"timestamp"`
	Kind      Kind     `json:"kind"`
	Payload   *string  `json:"data"`
	PrevHash  *string  `json:"previous_hash"`
	Hash      *string  `json:"hash"`
}

func (s *FileStore) Load() ([]Block, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}

	// Unmarshal rejects anything after the array.
	var raw []snapshotBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	blocks, err := decodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	return blocks, nil
}

func decodeSnapshot(raw []snapshotBlock) ([]Block, error) {
	if len(raw) == 0 {
		return nil, errors.New("snapshot holds no blocks")
	}
	blocks := make([]Block, 0, len(raw))
	for i, r := range raw {
		if r.Index == nil || r.Timestamp == nil || r.Payload == nil || r.PrevHash == nil || r.Hash == nil {
			return nil, fmt.Errorf("block %d: missing field", i)
		}
		kind := r.Kind
		if kind == "" {
			kind = legacyKind(i, *r.Payload)
		}
		if !kind.valid() {
			return nil, fmt.Errorf("block %d: unknown kind %q", i, kind)
		}
		blocks = append(blocks, Block{
			Index:     *r.Index,
			Timestamp: *r.Timestamp,
			Kind:      kind,
			Payload:   *r.Payload,
			PrevHash:  *r.PrevHash,
			Hash:      *r.Hash,
		})
	}
	return blocks, nil
}

// legacyKind infers the kind of blocks saved before payloads were tagged.
func legacyKind(position int, payload string) Kind {
	if position == 0 && payload == GenesisPayload {
		return KindGenesis
	}
	return KindRecord
}
