package runtimex

import (
	"errors"
	"testing"
)

func recovered(f func()) (r any) {
	defer func() { r = recover() }()
	f()
	return nil
}

func TestAssert(t *testing.T) {
	if r := recovered(func() { Assert(true, "unused") }); r != nil {
		t.Fatalf("unexpected panic %v", r)
	}
	r := recovered(func() { Assert(false, "nil engine") })
	if r != "nil engine" {
		t.Fatalf("expected the message as panic value, got %v", r)
	}
}

func TestPanicOnError(t *testing.T) {
	if r := recovered(func() { PanicOnError(nil, "unused") }); r != nil {
		t.Fatalf("unexpected panic %v", r)
	}
	cause := errors.New("no such file")
	r := recovered(func() { PanicOnError(cause, "cannot parse config file") })
	err, ok := r.(error)
	if !ok {
		t.Fatalf("expected an error, got %T", r)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be wrapped")
	}
	if err.Error() != "cannot parse config file: no such file" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
