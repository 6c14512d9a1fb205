// Copyright (c) 2018, Postgres Professional

package rowcount

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemap(t *testing.T) {
	assert.EqualValues(t, DriverUnknown, Remap(Unknown))
	assert.EqualValues(t, DriverError, Remap(Error))
	assert.EqualValues(t, 0, Remap(0))
	assert.EqualValues(t, 42, Remap(42))
}
