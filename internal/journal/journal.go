// Package journal computes the revision and chain hashes that record store adapters keep alongside every write
// so that the metadata of a revision can be proven against the journal digest.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/luno/ledgerflow"
)

// Entry is a single revision in the journal of a table. Sequences start at 1 and have no gaps.
type Entry struct {
	Sequence     int64
	Key          string
	Version      int64
	Value        []byte
	RevisionHash string
	ChainHash    string
	CreatedAt    time.Time
}

// Tip is the last entry of a journal. The zero value is the tip of an empty journal.
type Tip struct {
	Sequence  int64
	ChainHash string
}

func (e Entry) Tip() Tip {
	return Tip{Sequence: e.Sequence, ChainHash: e.ChainHash}
}

// RevisionHash is the hash of the canonical JSON form of a revision.
func RevisionHash(key string, version int64, value []byte) (string, error) {
	doc := struct {
		Key     string `json:"key"`
		Version int64  `json:"version"`
		Value   any    `json:"value"`
	}{
		Key:     key,
		Version: version,
		Value:   value,
	}

	if json.Valid(value) {
		doc.Value = json.RawMessage(value)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "marshal revision", j.KV("key", key))
	}

	canonical, err := jcs.Transform(b)
	if err != nil {
		return "", errors.Wrap(err, "canonicalise revision", j.KV("key", key))
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Chain folds a revision hash onto the previous chain hash.
func Chain(previous, revisionHash string) string {
	h := sha256.New()
	h.Write([]byte(previous))
	h.Write([]byte(revisionHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Next builds the entry that follows tip.
func Next(tip Tip, key string, version int64, value []byte, now time.Time) (Entry, error) {
	rev, err := RevisionHash(key, version, value)
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		Sequence:     tip.Sequence + 1,
		Key:          key,
		Version:      version,
		Value:        value,
		RevisionHash: rev,
		ChainHash:    Chain(tip.ChainHash, rev),
		CreatedAt:    now,
	}, nil
}

func StrandID(addr ledgerflow.Address) string {
	return addr.Ledger + "/" + addr.Table
}

// Describe returns the metadata of entry e given the chain hash preceding it and every entry that was
// appended after it.
func Describe(addr ledgerflow.Address, previous string, e Entry, later []Entry) ledgerflow.Metadata {
	md := ledgerflow.Metadata{
		LedgerName:  addr.Ledger,
		TableName:   addr.Table,
		DocumentKey: e.Key,
		Version:     e.Version,
		BlockAddress: ledgerflow.BlockAddress{
			StrandID:   StrandID(addr),
			SequenceNo: e.Sequence,
		},
		RevisionHash: e.RevisionHash,
		PreviousHash: previous,
		Digest: ledgerflow.Digest{
			Digest:     e.ChainHash,
			SequenceNo: e.Sequence,
		},
	}

	for _, l := range later {
		md.Proof = append(md.Proof, l.RevisionHash)
		md.Digest = ledgerflow.Digest{Digest: l.ChainHash, SequenceNo: l.Sequence}
	}

	return md
}

// Fold recomputes the digest the metadata claims from its previous hash, revision hash and proof.
func Fold(md ledgerflow.Metadata) string {
	chain := Chain(md.PreviousHash, md.RevisionHash)
	for _, rev := range md.Proof {
		chain = Chain(chain, rev)
	}

	return chain
}

// Consistent reports whether the metadata is internally consistent. It does not consult a journal.
func Consistent(md ledgerflow.Metadata) bool {
	if md.Digest.SequenceNo-md.BlockAddress.SequenceNo != int64(len(md.Proof)) {
		return false
	}

	return Fold(md) == md.Digest.Digest
}

// Verify checks the metadata against the journal. at is the entry the journal holds at the block address of the
// metadata, previous is the chain hash preceding it and later holds the entries after it up to and including the
// digest sequence. A metadata without a proof is proven with the journal's own entries.
func Verify(md ledgerflow.Metadata, addr ledgerflow.Address, previous string, at *Entry, later []Entry) bool {
	if md.LedgerName != addr.Ledger || md.TableName != addr.Table {
		return false
	}

	if md.BlockAddress.StrandID != "" && md.BlockAddress.StrandID != StrandID(addr) {
		return false
	}

	if at == nil || at.Sequence != md.BlockAddress.SequenceNo {
		return false
	}

	if at.Key != md.DocumentKey || at.Version != md.Version || at.RevisionHash != md.RevisionHash {
		return false
	}

	if md.PreviousHash != "" && md.PreviousHash != previous {
		return false
	}

	expected := Describe(addr, previous, *at, later)
	if expected.Digest != md.Digest {
		return false
	}

	if len(md.Proof) > 0 && !slices.Equal(md.Proof, expected.Proof) {
		return false
	}

	return Consistent(expected)
}

// VerifyRange verifies the metadata against contiguous journal entries ordered by sequence. The entries start
// at the entry preceding the block address, or at the block address itself for the first entry of a journal,
// and end at the digest sequence.
func VerifyRange(md ledgerflow.Metadata, addr ledgerflow.Address, entries []Entry) bool {
	seq := md.BlockAddress.SequenceNo

	var previous string
	if len(entries) > 0 && seq > 1 && entries[0].Sequence == seq-1 {
		previous = entries[0].ChainHash
		entries = entries[1:]
	}

	if len(entries) == 0 || entries[0].Sequence != seq {
		return false
	}

	at := entries[0]
	return Verify(md, addr, previous, &at, entries[1:])
}

// RangeStart is the first sequence VerifyRange needs for a revision at seq.
func RangeStart(seq int64) int64 {
	if seq > 1 {
		return seq - 1
	}

	return 1
}
