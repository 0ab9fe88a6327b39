// Package runtimex contains [runtime] extensions for invariants that only a
// programming error can break.
package runtimex

import "fmt"

// Assert panics with message if stmt is false.
func Assert(stmt bool, message string) {
	if !stmt {
		panic(message)
	}
}

// PanicOnError panics with an error wrapping err if err is not nil.
func PanicOnError(err error, message string) {
	if err != nil {
		panic(fmt.Errorf("%s: %w", message, err))
	}
}
