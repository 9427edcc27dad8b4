package storage

import (
	"encoding/json"
	"fmt"

	"github.com/russross/meddler"
)

func init() {
	meddler.Register("json", JSONMeddler{})
}

// JSONMeddler stores an arbitrary Go value as a JSON-encoded column,
// the way HashMeddler/AddressMeddler convert typed values for the
// single-schema framework this was generalized from — except here the
// value itself is dynamic, since entity shapes are declared by the
// generator rather than fixed Go structs.
type JSONMeddler struct{}

func (JSONMeddler) PreRead(fieldAddr any) (scanTarget any, err error) {
	return new(string), nil
}

func (JSONMeddler) PostRead(fieldAddr, scanTarget any) error {
	s := scanTarget.(*string)
	ptr, ok := fieldAddr.(*any)
	if !ok {
		return fmt.Errorf("json meddler: expected *any field, got %T", fieldAddr)
	}
	var value any
	if err := json.Unmarshal([]byte(*s), &value); err != nil {
		return fmt.Errorf("json meddler: unmarshal: %w", err)
	}
	*ptr = value
	return nil
}

func (JSONMeddler) PreWrite(field any) (saveValue any, err error) {
	encoded, err := json.Marshal(field)
	if err != nil {
		return nil, fmt.Errorf("json meddler: marshal: %w", err)
	}
	return string(encoded), nil
}
