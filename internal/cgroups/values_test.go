package cgroups

import (
	"errors"
	"testing"
)

func TestParseValue(t *testing.T) {
	v := ParseValue("max 100000\n")

	if len(v) != 2 {
		t.Fatalf("got %d tokens instead of 2", len(v))
	}
	if !v.IsMax(0) || v.IsMax(1) || v.IsMax(2) {
		t.Fatalf("only the first token must be 'max'")
	}
	if x, err := v.Int64(1); err != nil || x != 100000 {
		t.Fatalf("got unexpected result: x = %d, err = %v", x, err)
	}
	if s := v.String(); s != "max 100000" {
		t.Fatalf("got unexpected result: %q", s)
	}
	if _, err := v.Int64(0); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got unexpected error:\nwant error:\tErrInvalidValue\ngot error:\t%v", err)
	}
	if _, err := v.Int64(5); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got unexpected error:\nwant error:\tErrInvalidValue\ngot error:\t%v", err)
	}
}

func TestNewValue(t *testing.T) {
	values := map[string][]interface{}{
		"-1":          {-1},
		"50000":       {int64(50000)},
		"max":         {"max"},
		"20971520 10": {20971520, 10},
	}

	for want, args := range values {
		v, err := NewValue(args...)
		if err != nil {
			t.Fatalf("got unexpected error: %s", err)
		}
		if got := v.String(); got != want {
			t.Fatalf("got invalid result:\nwant:\t%q\ngot:\t%q", want, got)
		}
	}

	if _, err := NewValue(3.14); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got unexpected error:\nwant error:\tErrInvalidValue\ngot error:\t%v", err)
	}
}
