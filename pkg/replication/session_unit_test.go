package replication

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
)

type fakeResolver struct{}

func (fakeResolver) FetchColumnType(ctx context.Context, typeID uint32, atttypmod int32) (string, error) {
	if typeID == 20 {
		return "bigint", nil
	}
	return "text", nil
}

func (fakeResolver) FetchColumnOptional(ctx context.Context, namespace, table, column string) (bool, error) {
	return column != "id", nil
}

type recordedCall struct {
	kind string
	arg  any
}

type fakeConsumer struct {
	calls       []recordedCall
	stopOnEvent bool // stop as soon as a change event is delivered
}

func (f *fakeConsumer) HandleSlotCreated(ctx context.Context, info cdcevent.SlotInitInfo, commit CommitFunc) error {
	f.calls = append(f.calls, recordedCall{kind: "slot_created", arg: info})
	return nil
}

func (f *fakeConsumer) HandleBegin(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	f.calls = append(f.calls, recordedCall{kind: "begin", arg: txn})
	return nil
}

func (f *fakeConsumer) HandleRelation(ctx context.Context, schema *catalog.TableSchema, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	f.calls = append(f.calls, recordedCall{kind: "relation", arg: schema})
	return nil
}

func (f *fakeConsumer) HandleChangeEvent(ctx context.Context, event *cdcevent.ChangeEvent, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	f.calls = append(f.calls, recordedCall{kind: "change", arg: event})
	if f.stopOnEvent {
		return Stop
	}
	return nil
}

func (f *fakeConsumer) HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	f.calls = append(f.calls, recordedCall{kind: "commit", arg: txn})
	commit(envelope.DataStart)
	return nil
}

func newUnitSession(consumer Consumer) *Session {
	return NewSession(Config{Database: "testdb", PublicationName: "pub", SlotName: "slot"}, consumer, fakeResolver{}, nil)
}

func appendI16(buf []byte, v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return append(buf, b...)
}
func appendI32(buf []byte, v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return append(buf, b...)
}
func appendI64(buf []byte, v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return append(buf, b...)
}
func appendCStr(buf []byte, s string) []byte {
	return append(append(buf, []byte(s)...), 0x00)
}

func relationPayload(relID int32) []byte {
	buf := []byte{'R'}
	buf = appendI32(buf, relID)
	buf = appendCStr(buf, "public")
	buf = appendCStr(buf, "t")
	buf = append(buf, 'd')
	buf = appendI16(buf, 1)
	buf = append(buf, 0x01)
	buf = appendCStr(buf, "id")
	buf = appendI32(buf, 20)
	buf = appendI32(buf, -1)
	return buf
}

func beginPayload() []byte {
	buf := []byte{'B'}
	buf = appendI64(buf, 100)
	buf = appendI64(buf, 0)
	buf = appendI32(buf, 7)
	return buf
}

func commitPayload() []byte {
	buf := []byte{'C', 0x00}
	buf = appendI64(buf, 100)
	buf = appendI64(buf, 200)
	buf = appendI64(buf, 0)
	return buf
}

func insertPayload(relID int32, idText string) []byte {
	buf := []byte{'I'}
	buf = appendI32(buf, relID)
	buf = append(buf, 'N')
	buf = appendI16(buf, 1)
	buf = append(buf, 't')
	buf = appendI32(buf, int32(len(idText)))
	buf = append(buf, []byte(idText)...)
	return buf
}

func TestDispatchFullTransaction(t *testing.T) {
	consumer := &fakeConsumer{}
	session := newUnitSession(consumer)
	ctx := context.Background()

	env := func(payload []byte) cdcevent.ReplicationMessage {
		return cdcevent.ReplicationMessage{MessageID: uuid.New(), DataStart: 1, Payload: payload}
	}

	require.NoError(t, session.dispatch(ctx, env(relationPayload(1))))
	require.NoError(t, session.dispatch(ctx, env(beginPayload())))
	require.NoError(t, session.dispatch(ctx, env(insertPayload(1, "10"))))
	require.NoError(t, session.dispatch(ctx, env(commitPayload())))

	var kinds []string
	for _, c := range consumer.calls {
		kinds = append(kinds, c.kind)
	}
	require.Equal(t, []string{"relation", "begin", "change", "commit"}, kinds)
}

func TestDispatchChangeEventOutsideTransactionFails(t *testing.T) {
	consumer := &fakeConsumer{}
	session := newUnitSession(consumer)
	ctx := context.Background()

	require.NoError(t, session.dispatch(ctx, cdcevent.ReplicationMessage{Payload: relationPayload(1)}))
	err := session.dispatch(ctx, cdcevent.ReplicationMessage{Payload: insertPayload(1, "10")})
	require.Error(t, err)
}

func TestCommitFuncIsMonotonic(t *testing.T) {
	session := newUnitSession(&fakeConsumer{})
	commit := session.commitFunc()

	commit(10)
	require.EqualValues(t, 10, session.lastFlushed.Load())

	commit(5) // out of order: dropped
	require.EqualValues(t, 10, session.lastFlushed.Load())

	commit(20)
	require.EqualValues(t, 20, session.lastFlushed.Load())
}

func TestDispatchStopFromConsumerPropagates(t *testing.T) {
	consumer := &fakeConsumer{stopOnEvent: true}
	session := newUnitSession(consumer)
	ctx := context.Background()

	require.NoError(t, session.dispatch(ctx, cdcevent.ReplicationMessage{Payload: relationPayload(1)}))
	require.NoError(t, session.dispatch(ctx, cdcevent.ReplicationMessage{Payload: beginPayload()}))

	err := session.dispatch(ctx, cdcevent.ReplicationMessage{Payload: insertPayload(1, "10")})
	require.ErrorIs(t, err, Stop)
}
