package models

import "github.com/goccy/go-json"

type optionalState uint8

const (
	stateUnset optionalState = iota
	stateNone
	stateSome
)

// Optional is a value with three states: Unset, None, and Some.
//
// The zero value is Unset, meaning the field was not computed. None means the
// value is known to be absent. Merge writes overwrite on Some, write null on
// None, and keep the stored value on Unset.
type Optional[T any] struct {
	state optionalState
	value T
}

// Some wraps v as a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{state: stateSome, value: v}
}

// None returns an Optional that is known to be absent.
func None[T any]() Optional[T] {
	return Optional[T]{state: stateNone}
}

// FromPtr returns None for a nil pointer and Some(*p) otherwise.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// IsSet reports whether the value was computed, either None or Some.
func (o Optional[T]) IsSet() bool { return o.state != stateUnset }

// IsSome reports whether a value is present.
func (o Optional[T]) IsSome() bool { return o.state == stateSome }

// IsNone reports whether the value is known to be absent.
func (o Optional[T]) IsNone() bool { return o.state == stateNone }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.state == stateSome
}

// OrElse returns the value when present and fallback otherwise.
func (o Optional[T]) OrElse(fallback T) T {
	if o.state == stateSome {
		return o.value
	}
	return fallback
}

// Ptr returns a pointer to a copy of the value, or nil unless present.
func (o Optional[T]) Ptr() *T {
	if o.state != stateSome {
		return nil
	}
	v := o.value
	return &v
}

// Merge returns o when it is set and stored otherwise.
func (o Optional[T]) Merge(stored Optional[T]) Optional[T] {
	if o.IsSet() {
		return o
	}
	return stored
}

// MarshalJSON encodes Some as the value and both Unset and None as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.state != stateSome {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
