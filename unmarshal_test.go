package ledgerflow_test

import (
	"encoding/json"
	"testing"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/luno/ledgerflow"
)

func TestUnmarshalKeepsNumbers(t *testing.T) {
	var v map[string]any
	jtest.RequireNil(t, ledgerflow.Unmarshal([]byte(`{"amount": 12345678901234567890}`), &v))
	require.Equal(t, json.Number("12345678901234567890"), v["amount"])
}

func TestUnmarshalTemplateReference(t *testing.T) {
	var ref ledgerflow.TemplateReference
	jtest.RequireNil(t, ledgerflow.Unmarshal([]byte(`{"s3path": "s3://source/c1.cta", "hash": "abc"}`), &ref))
	require.Equal(t, "s3://source/c1.cta", ref.S3Path)
	require.Equal(t, "abc", ref.Hash)
}

func TestUnmarshalRejects(t *testing.T) {
	testCases := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ``},
		{name: "malformed", in: `{"s3path":`},
		{name: "trailing document", in: `{"hash": "a"} {"hash": "b"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var ref ledgerflow.TemplateReference
			require.Error(t, ledgerflow.Unmarshal([]byte(tc.in), &ref))
		})
	}
}
