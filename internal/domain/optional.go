package domain

import "github.com/goccy/go-json"

// Opt is an optional protocol field. The zero value is absent.
// A present field keeps its value even when that value is zero, empty or false.
type Opt[T any] struct {
	value T
	set   bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{value: v, set: true} }

func None[T any]() Opt[T] { return Opt[T]{} }

func (o Opt[T]) IsSet() bool { return o.set }

// Get returns the value and whether it was present.
func (o Opt[T]) Get() (T, bool) { return o.value, o.set }

// Or returns the value if present, otherwise def.
func (o Opt[T]) Or(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// IsZero lets encoders drop absent fields with omitzero.
func (o Opt[T]) IsZero() bool { return !o.set }

// UnmarshalJSON is only invoked for keys present in the payload; an explicit null stays absent.
func (o *Opt[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Opt[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (o Opt[T]) MarshalJSON() ([]byte, error) {
	if !o.set {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
