// Package value describes the opaque structured values a parity run fuzzes:
// how they decompose into named fields, how random instances are produced,
// and how they are laid out in device memory.
package value

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
)

// ErrNotFixedSize is returned for types without a fixed binary layout.
var ErrNotFixedSize = errors.New("value: type has no fixed-size binary layout")

// Field is one named, ordered member of a decomposable value.
type Field struct {
	Name string
	// Get extracts the field from a value of the owning type.
	Get func(v any) any
}

// Schema is the ordered field list of a decomposable type.
type Schema []Field

// Struct is implemented by decomposable values. Any value that does not
// implement it is a leaf.
//
// Schema must depend only on the concrete type, never on the receiver's
// contents: it is memoized per type.
type Struct interface {
	Schema() Schema
}

// FieldOf builds a typed Field accessor.
func FieldOf[S, F any](name string, get func(S) F) Field {
	return Field{
		Name: name,
		Get:  func(v any) any { return get(v.(S)) },
	}
}

// IsLeaf reports whether v has no decomposable fields.
func IsLeaf(v any) bool {
	_, ok := v.(Struct)
	return !ok
}

// Decomposable reports whether values of T split into named parts the
// comparator can walk: a Struct, a float leaf, or a fixed-size array.
func Decomposable[T any]() bool {
	var v T
	if !IsLeaf(v) || IsFloat(v) {
		return true
	}
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Array
}

// IsFloat reports whether v is a floating-point leaf.
func IsFloat(v any) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

// AsFloat64 widens a floating-point leaf. ok is false for other types.
func AsFloat64(v any) (f float64, ok bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// Size returns the encoded size of T in bytes, or -1 when T is not fixed-size.
func Size[T any]() int {
	var v T
	return binary.Size(v)
}

// CheckFixedSize verifies T can be uploaded to a device buffer.
func CheckFixedSize[T any]() error {
	if Size[T]() <= 0 {
		var v T
		return fmt.Errorf("%w: %s", ErrNotFixedSize, reflect.TypeOf(v))
	}
	return nil
}

// Encode lays out buf exactly as the device sees it (little-endian, packed).
func Encode[T any](buf []T) ([]byte, error) {
	return binary.Append(make([]byte, 0, Size[T]()*len(buf)), binary.LittleEndian, buf)
}

// Decode reads len(out) elements from data. data must hold at least
// Size[T]()*len(out) bytes.
func Decode[T any](data []byte, out []T) error {
	want := Size[T]() * len(out)
	if len(data) < want {
		return fmt.Errorf("value: decode needs %d bytes, have %d", want, len(data))
	}
	_, err := binary.Decode(data[:want], binary.LittleEndian, out)
	return err
}
