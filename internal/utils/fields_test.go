package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberField(t *testing.T) {
	fields := map[string]any{"f": 1.5, "i": 2, "l": int64(3), "s": "4", "n": nil}

	v, ok := NumberField(fields, "f")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)

	v, ok = NumberField(fields, "i")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)

	v, ok = NumberField(fields, "l")
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	for _, key := range []string{"s", "n", "missing"} {
		_, ok = NumberField(fields, key)
		assert.False(t, ok, key)
	}

	_, ok = NumberField(nil, "f")
	assert.False(t, ok)
}
