package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBind(t *testing.T) {
	testCases := []struct {
		name     string
		dialect  Dialect
		query    string
		expected string
	}{
		{
			name:     "question marks are kept",
			dialect:  MySQL,
			query:    "select 1 from ledger_tips where ledger_name=? and table_name=?",
			expected: "select 1 from ledger_tips where ledger_name=? and table_name=?",
		},
		{
			name:     "numbered placeholders",
			dialect:  Postgres,
			query:    "select 1 from ledger_tips where ledger_name=? and table_name=?",
			expected: "select 1 from ledger_tips where ledger_name=$1 and table_name=$2",
		},
		{
			name:     "no placeholders",
			dialect:  Postgres,
			query:    "select 1",
			expected: "select 1",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, tc.dialect.bind(tc.query))
		})
	}
}
