package ledger

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/luca-patrignani/edu-ledger/digest"
)

// Kind tags what a block's payload holds.
type Kind string

const (
	KindGenesis     Kind = "genesis"
	KindRecord      Kind = "record"
	KindCertificate Kind = "certificate"
)

const (
	// GenesisPayload is the payload of every genesis block.
	GenesisPayload = "Genesis Block"
	// GenesisPrevHash is the sentinel previous hash of the genesis block.
	GenesisPrevHash = "0"
)

func (k Kind) valid() bool {
	switch k {
	case KindGenesis, KindRecord, KindCertificate:
		return true
	}
	return false
}

// Block is a single ledger entry. Hash is computed once, at construction,
// and stored as is afterwards.
type Block struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp"` // seconds since the epoch
	Kind      Kind    `json:"kind"`
	Payload   string  `json:"data"`
	PrevHash  string  `json:"previous_hash"`
	Hash      string  `json:"hash"`
}

func newBlock(index int, timestamp float64, kind Kind, payload string, prevHash string) Block {
	b := Block{
		Index:     index,
		Timestamp: timestamp,
		Kind:      kind,
		Payload:   payload,
		PrevHash:  prevHash,
	}
	b.Hash = b.computeHash()
	return b
}

func newGenesis(timestamp float64) Block {
	return newBlock(0, timestamp, KindGenesis, GenesisPayload, GenesisPrevHash)
}

// computeHash digests the block fields. The timestamp uses the shortest
// formatting that parses back to the same float64, so hashes survive a
// JSON round trip.
func (b Block) computeHash() string {
	return digest.Sum(
		strconv.Itoa(b.Index),
		strconv.FormatFloat(b.Timestamp, 'f', -1, 64),
		string(b.Kind),
		b.Payload,
		b.PrevHash,
	).String()
}

// Time returns the block timestamp as a time.Time.
func (b Block) Time() time.Time {
	sec, frac := math.Modf(b.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (b Block) String() string {
	return fmt.Sprintf("#%d %s %s", b.Index, b.Kind, b.Payload)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
