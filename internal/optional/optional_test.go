package optional

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValue(t *testing.T) {
	t.Run("the zero value is none", func(t *testing.T) {
		var v Value[int]
		if !v.IsNone() {
			t.Fatal("expected none")
		}
		if got := v.UnwrapOr(42); got != 42 {
			t.Fatalf("expected fallback, got %d", got)
		}
		if _, ok := v.Get(); ok {
			t.Fatal("expected Get to report missing value")
		}
	})

	t.Run("some wraps the value", func(t *testing.T) {
		now := time.Unix(1700000000, 0)
		v := Some(now)
		if v.IsNone() {
			t.Fatal("expected some")
		}
		if !v.Unwrap().Equal(now) {
			t.Fatal("unexpected value")
		}
		got, ok := v.Get()
		if !ok || !got.Equal(now) {
			t.Fatal("unexpected Get result")
		}
	})

	t.Run("some with a nil pointer is none", func(t *testing.T) {
		var p *int
		if !Some(p).IsNone() {
			t.Fatal("expected none for nil pointer")
		}
	})

	t.Run("unwrap panics on none", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic")
			}
		}()
		None[string]().Unwrap()
	})
}

func TestValueMarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Value[int] `json:"a"`
		B Value[int] `json:"b"`
	}{A: Some(7), B: None[int]()})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":7,"b":null}` {
		t.Fatalf("unexpected json: %s", data)
	}
}
