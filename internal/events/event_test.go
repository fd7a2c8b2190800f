package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_StringRoundTrip(t *testing.T) {
	for _, typ := range AllTypes {
		parsed, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseType("mergeCast")
	assert.Error(t, err)
	assert.Equal(t, "eventType(42)", Type(42).String())
}
