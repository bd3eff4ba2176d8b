package model

import "encoding/json"

// Field is a sparse patch value. A Field that was absent from the wire
// payload has Set == false; a Field present with a JSON null has Set == true
// and the zero Value (or a nil pointer for pointer types).
type Field[T any] struct {
	Value T
	Set   bool
}

// Some returns a present Field holding v.
func Some[T any](v T) Field[T] {
	return Field[T]{Value: v, Set: true}
}

// Get returns the value and whether it was present.
func (f Field[T]) Get() (T, bool) {
	return f.Value, f.Set
}

// IsZero reports whether the field is absent. Used by the omitzero tag.
func (f Field[T]) IsZero() bool {
	return !f.Set
}

// UnmarshalJSON is only invoked by encoding/json when the key is present.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Set = true
	return json.Unmarshal(data, &f.Value)
}

// MarshalJSON implements json.Marshaler.
func (f Field[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Value)
}

// copyTo assigns the field's value to dst when present.
func copyTo[T any](dst *T, f Field[T]) {
	if f.Set {
		*dst = f.Value
	}
}
