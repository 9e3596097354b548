package cdcevent

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/pgoutput"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct{}

func (fakeResolver) FetchColumnType(ctx context.Context, typeID uint32, atttypmod int32) (string, error) {
	switch typeID {
	case 20:
		return "bigint", nil
	case 1184:
		return "timestamp with time zone", nil
	case 114:
		return "jsonb", nil
	default:
		return "text", nil
	}
}

func (fakeResolver) FetchColumnOptional(ctx context.Context, namespace, table, column string) (bool, error) {
	return column != "id", nil
}

func newTestCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New("testdb", fakeResolver{})
	_, err := cat.UpsertRelation(context.Background(), pgoutput.RelationMessage{
		RelationID:   16401,
		Namespace:    "public",
		RelationName: "integration",
		Columns: []pgoutput.Column{
			{Flags: 0x01, Name: "id", DataType: 20},
			{Flags: 0x00, Name: "json_data", DataType: 114},
			{Flags: 0x00, Name: "amount", DataType: 1700},
			{Flags: 0x00, Name: "updated_at", DataType: 1184},
			{Flags: 0x00, Name: "text_data", DataType: 25},
		},
	})
	require.NoError(t, err)
	return cat
}

func env() ReplicationMessage {
	return ReplicationMessage{MessageID: uuid.New(), DataStart: 1000}
}

func txn() Transaction {
	return Transaction{TxID: 1, BeginLSN: 900}
}

func cell(s string) pgoutput.Cell { return pgoutput.Cell{Kind: pgoutput.TupleText, Text: []byte(s)} }

func TestBuilderInsert(t *testing.T) {
	b := NewBuilder(newTestCatalog(t))

	msg := pgoutput.InsertMessage{
		RelationID: 16401,
		New: pgoutput.TupleData{Columns: []pgoutput.Cell{
			cell("10"), cell(`{"data":10}`), cell("10.20"), cell("2020-01-01 00:00:00+00"), cell("dummy_value"),
		}},
	}

	event, err := b.Insert(msg, txn(), env())
	require.NoError(t, err)
	require.Equal(t, OpInsert, event.Op)
	require.Nil(t, event.Before)
	require.EqualValues(t, int64(10), event.After["id"])
	require.Equal(t, "dummy_value", event.After["text_data"])
	require.Equal(t, int64(10), event.Key["id"])
	require.Equal(t, "public", event.Key["namespace"])
	require.Equal(t, "integration", event.Key["table"])
	require.Equal(t, "testdb", event.Key["database"])
}

func TestBuilderUpdateKeyOnlyBefore(t *testing.T) {
	b := NewBuilder(newTestCatalog(t))

	msg := pgoutput.UpdateMessage{
		RelationID: 16401,
		OldKind:    'K',
		Old:        pgoutput.TupleData{Columns: []pgoutput.Cell{cell("10")}},
		New: pgoutput.TupleData{Columns: []pgoutput.Cell{
			cell("10"), cell(`{"data":11}`), cell("11.20"), cell("2020-01-02 00:00:00+00"), cell("new_value"),
		}},
	}

	event, err := b.Update(msg, txn(), env())
	require.NoError(t, err)
	require.Equal(t, OpUpdate, event.Op)
	require.Len(t, event.Before, 1)
	require.Contains(t, event.Before, "id")
	require.Len(t, event.After, 5)
}

func TestBuilderUpdateNoOldTuple(t *testing.T) {
	b := NewBuilder(newTestCatalog(t))

	msg := pgoutput.UpdateMessage{
		RelationID: 16401,
		New: pgoutput.TupleData{Columns: []pgoutput.Cell{
			cell("10"), cell(`{"data":11}`), cell("11.20"), cell("2020-01-02 00:00:00+00"), cell("new_value"),
		}},
	}

	event, err := b.Update(msg, txn(), env())
	require.NoError(t, err)
	require.Nil(t, event.Before)
	require.Equal(t, int64(10), event.Key["id"])
}

func TestBuilderDeleteFullBefore(t *testing.T) {
	b := NewBuilder(newTestCatalog(t))

	msg := pgoutput.DeleteMessage{
		RelationID: 16401,
		OldKind:    'O',
		Old: pgoutput.TupleData{Columns: []pgoutput.Cell{
			cell("10"), cell(`{"data":10}`), cell("10.20"), cell("2020-01-01 00:00:00+00"), cell("dummy_value"),
		}},
	}

	event, err := b.Delete(msg, txn(), env())
	require.NoError(t, err)
	require.Equal(t, OpDelete, event.Op)
	require.Nil(t, event.After)
	require.Equal(t, "dummy_value", event.Before["text_data"])
}

func TestBuilderTruncateCarriesAllSchemas(t *testing.T) {
	cat := newTestCatalog(t)
	_, err := cat.UpsertRelation(context.Background(), pgoutput.RelationMessage{
		RelationID:   16402,
		Namespace:    "public",
		RelationName: "other",
		Columns:      []pgoutput.Column{{Flags: 0x01, Name: "id", DataType: 20}},
	})
	require.NoError(t, err)

	b := NewBuilder(cat)
	event, err := b.Truncate(pgoutput.TruncateMessage{RelationIDs: []uint32{16401, 16402}}, txn(), env())
	require.NoError(t, err)
	require.Equal(t, OpTruncate, event.Op)
	require.Nil(t, event.Before)
	require.Nil(t, event.After)
	require.Len(t, event.TableSchemata, 2)
	require.Equal(t, "integration", event.TableSchemata[0].Table)
	require.Equal(t, "other", event.TableSchemata[1].Table)
}

func TestBuilderCatalogMiss(t *testing.T) {
	b := NewBuilder(newTestCatalog(t))
	_, err := b.Insert(pgoutput.InsertMessage{RelationID: 99999}, txn(), env())
	require.Error(t, err)

	var missErr *CatalogMissError
	require.ErrorAs(t, err, &missErr)
}
