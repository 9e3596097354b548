package sourcedb

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchColumnTypeAndOptional(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("TEST_DATABASE") == "" {
		t.Skip("TEST_DATABASE not set")
	}

	ctx := context.Background()
	handler, err := Connect(ctx, os.Getenv("TEST_DATABASE"))
	require.NoError(t, err)
	defer handler.Close()

	typeName, err := handler.FetchColumnType(ctx, 20, -1)
	require.NoError(t, err)
	require.Equal(t, "bigint", typeName)

	_, err = handler.FetchColumnOptional(ctx, "pg_catalog", "pg_class", "relname")
	require.NoError(t, err)
}
