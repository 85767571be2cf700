package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNotNil(t *testing.T) {
	var missing *int
	value := 7

	assert.PanicsWithValue(t, "store cannot be nil", func() { AssertNotNil(missing, "store") })
	assert.NotPanics(t, func() { AssertNotNil(&value, "store") })
}

func TestRequire(t *testing.T) {
	assert.PanicsWithValue(t, "syncer: source name cannot be empty", func() {
		Require(false, "%s: source name cannot be empty", "syncer")
	})
	assert.NotPanics(t, func() { Require(true, "unused") })
}
