package trigger

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// decodeInto round-trips a string-keyed catalog-value map through its
// JSON representation into the user's type T. The string representation
// scanned from each column is the canonical wire form between the
// database and the handler; T's fields are expected to accept it.
func decodeInto[T any](values map[string]string, out *T) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "could not marshal row values")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "could not unmarshal row into target type")
	}
	return nil
}
