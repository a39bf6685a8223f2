package journal_test

import (
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
	"github.com/luno/ledgerflow/internal/journal"
)

var addr = ledgerflow.Address{Ledger: "contracts", Table: "c1"}

func buildJournal(t *testing.T, values ...string) []journal.Entry {
	var (
		entries []journal.Entry
		tip     journal.Tip
	)
	for i, v := range values {
		e, err := journal.Next(tip, "c1.state", int64(i+1), []byte(v), time.Unix(0, 0))
		jtest.RequireNil(t, err)

		entries = append(entries, e)
		tip = e.Tip()
	}

	return entries
}

func TestRevisionHashIsCanonical(t *testing.T) {
	a, err := journal.RevisionHash("k", 1, []byte(`{"b":1,"a":2}`))
	jtest.RequireNil(t, err)

	b, err := journal.RevisionHash("k", 1, []byte(`{ "a": 2, "b": 1 }`))
	jtest.RequireNil(t, err)

	require.Equal(t, a, b)

	c, err := journal.RevisionHash("k", 2, []byte(`{"a":2,"b":1}`))
	jtest.RequireNil(t, err)
	require.NotEqual(t, a, c)
}

func TestRevisionHashOpaqueValue(t *testing.T) {
	h, err := journal.RevisionHash("k", 1, []byte("not json"))
	jtest.RequireNil(t, err)
	require.Len(t, h, 64)
}

func TestNextChains(t *testing.T) {
	entries := buildJournal(t, `{"n":1}`, `{"n":2}`)

	require.Equal(t, int64(1), entries[0].Sequence)
	require.Equal(t, int64(2), entries[1].Sequence)
	require.Equal(t, journal.Chain("", entries[0].RevisionHash), entries[0].ChainHash)
	require.Equal(t, journal.Chain(entries[0].ChainHash, entries[1].RevisionHash), entries[1].ChainHash)
}

func TestDescribeAndVerify(t *testing.T) {
	entries := buildJournal(t, `{"n":1}`, `{"n":2}`, `{"n":3}`)

	md := journal.Describe(addr, entries[0].ChainHash, entries[1], entries[2:])
	require.Equal(t, "contracts/c1", md.BlockAddress.StrandID)
	require.Equal(t, int64(2), md.BlockAddress.SequenceNo)
	require.Equal(t, []string{entries[2].RevisionHash}, md.Proof)
	require.Equal(t, ledgerflow.Digest{Digest: entries[2].ChainHash, SequenceNo: 3}, md.Digest)
	require.True(t, journal.Consistent(md))

	testCases := []struct {
		name     string
		mutate   func(md *ledgerflow.Metadata)
		expected bool
	}{
		{
			name:     "Valid",
			mutate:   func(md *ledgerflow.Metadata) {},
			expected: true,
		},
		{
			name:     "Proof stripped",
			mutate:   func(md *ledgerflow.Metadata) { md.Proof = nil },
			expected: true,
		},
		{
			name:     "Tampered revision hash",
			mutate:   func(md *ledgerflow.Metadata) { md.RevisionHash = entries[0].RevisionHash },
			expected: false,
		},
		{
			name:     "Tampered digest",
			mutate:   func(md *ledgerflow.Metadata) { md.Digest.Digest = entries[1].ChainHash },
			expected: false,
		},
		{
			name:     "Tampered proof",
			mutate:   func(md *ledgerflow.Metadata) { md.Proof = []string{entries[0].RevisionHash} },
			expected: false,
		},
		{
			name:     "Wrong table",
			mutate:   func(md *ledgerflow.Metadata) { md.TableName = "c2" },
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := md
			m.Proof = append([]string(nil), md.Proof...)
			tc.mutate(&m)

			actual := journal.Verify(m, addr, entries[0].ChainHash, &entries[1], entries[2:])
			require.Equal(t, tc.expected, actual)
		})
	}
}

func TestVerifyMissingEntry(t *testing.T) {
	entries := buildJournal(t, `{"n":1}`)
	md := journal.Describe(addr, "", entries[0], nil)

	require.False(t, journal.Verify(md, addr, "", nil, nil))
	require.True(t, journal.Verify(md, addr, "", &entries[0], nil))
}

func TestVerifyRange(t *testing.T) {
	entries := buildJournal(t, `{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`)

	md := journal.Describe(addr, entries[0].ChainHash, entries[1], entries[2:3])
	require.Equal(t, int64(1), journal.RangeStart(md.BlockAddress.SequenceNo))
	require.True(t, journal.VerifyRange(md, addr, entries[0:3]))
	require.False(t, journal.VerifyRange(md, addr, entries[1:3]))
	require.False(t, journal.VerifyRange(md, addr, entries[0:4]))

	first := journal.Describe(addr, "", entries[0], nil)
	require.Equal(t, int64(1), journal.RangeStart(1))
	require.True(t, journal.VerifyRange(first, addr, entries[0:1]))
}
