package relaylist

import (
	F "github.com/sagernet/sing/common/format"
)

// Constraint restricts a value of type T to either any value at all or
// exactly one. The zero value is the any constraint.
type Constraint[T any] struct {
	value T
	only  bool
}

// Any returns a constraint satisfied by every value.
func Any[T any]() Constraint[T] {
	return Constraint[T]{}
}

// Only returns a constraint satisfied by value alone.
func Only[T any](value T) Constraint[T] {
	return Constraint[T]{value: value, only: true}
}

func (c Constraint[T]) IsAny() bool {
	return !c.only
}

func (c Constraint[T]) IsOnly() bool {
	return c.only
}

// Value returns the constrained value, or false for the any constraint.
func (c Constraint[T]) Value() (T, bool) {
	return c.value, c.only
}

func (c Constraint[T]) String() string {
	if !c.only {
		return "any"
	}
	return F.ToString(c.value)
}
