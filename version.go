package ledgerflow

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// CheckVersion applies the expected version rules of RecordStore.Put. current is the version of the stored
// record or 0 when the record does not exist.
func CheckVersion(key string, current, expected int64) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected < AnyVersion:
		return errors.New("invalid expected version", j.MKV{"key": key, "expected": expected})
	case expected == MustNotExist && current != 0:
		return errors.Wrap(ErrVersionConflict, "record exists", j.MKV{"key": key, "current": current})
	case expected > 0 && current == 0:
		return errors.Wrap(ErrRecordNotFound, "", j.MKV{"key": key, "expected": expected})
	case expected > 0 && current != expected:
		return errors.Wrap(ErrVersionConflict, "", j.MKV{"key": key, "current": current, "expected": expected})
	}

	return nil
}
