package cdcevent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpMarshalsAsSingleCharacterString(t *testing.T) {
	b, err := json.Marshal(OpInsert)
	require.NoError(t, err)
	require.Equal(t, `"I"`, string(b))
}

func TestOpString(t *testing.T) {
	require.Equal(t, "U", OpUpdate.String())
	require.Equal(t, "D", OpDelete.String())
	require.Equal(t, "T", OpTruncate.String())
}
