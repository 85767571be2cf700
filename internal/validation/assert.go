// Package validation holds the panicking guards constructors use for wiring
// mistakes. Runtime failures are returned as errors, never routed here.
package validation

import "fmt"

// AssertNotNil panics when ptr is nil.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("%s cannot be nil", name))
	}
}

// Require panics with the formatted message when cond is false.
func Require(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
