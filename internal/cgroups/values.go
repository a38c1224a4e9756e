package cgroups

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidValue = errors.New("invalid cgroup value")
)

// Value is the content of a cgroup parameter file split into
// whitespace-separated tokens, e.g. ["max", "100000"] for cpu.max.
type Value []string

// NewValue builds a value from strings and integers.
func NewValue(a ...interface{}) (Value, error) {
	v := make(Value, 0, len(a))

	for _, x := range a {
		switch t := x.(type) {
		case string:
			v = append(v, t)
		case int:
			v = append(v, strconv.Itoa(t))
		case int64:
			v = append(v, strconv.FormatInt(t, 10))
		default:
			return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidValue, x)
		}
	}

	return v, nil
}

func mustValue(a ...interface{}) Value {
	v, err := NewValue(a...)
	if err != nil {
		panic(err)
	}
	return v
}

func ParseValue(s string) Value {
	return Value(strings.Fields(s))
}

func (v Value) String() string {
	return strings.Join(v, " ")
}

// Int64 returns the token at idx as an integer.
func (v Value) Int64(idx int) (int64, error) {
	if idx >= len(v) {
		return 0, fmt.Errorf("%w: no token #%d in %q", ErrInvalidValue, idx, v.String())
	}

	x, err := strconv.ParseInt(v[idx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	return x, nil
}

// IsMax reports whether the token at idx is the "max" keyword of cgroup v2.
func (v Value) IsMax(idx int) bool {
	return idx < len(v) && strings.ToLower(v[idx]) == "max"
}
