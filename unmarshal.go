package ledgerflow

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/luno/jettison/errors"
)

// Unmarshal decodes a single JSON document held in a record or payload. Numbers decoded into interface values
// are kept as json.Number so that contract data keeps its precision, and anything after the document is
// rejected.
func Unmarshal[T any](b []byte, t *T) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	err := dec.Decode(t)
	if err != nil {
		return err
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after json document")
	}

	return nil
}
