package debug

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nodalflow/pgcdc/pkg/cdcevent"
)

func TestDebugConsumerHandlesEventsWithoutSeedHandler(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	require.NoError(t, c.HandleSlotCreated(ctx, cdcevent.SlotInitInfo{SlotName: "s", PublicationName: "p"}, func(cdcevent.LSN) {}))
	require.NoError(t, c.HandleBegin(ctx, cdcevent.Transaction{TxID: 1}, cdcevent.ReplicationMessage{MessageID: uuid.New()}, func(cdcevent.LSN) {}))

	event := &cdcevent.ChangeEvent{Op: cdcevent.OpInsert, Key: map[string]any{"id": int64(1)}}
	require.NoError(t, c.HandleChangeEvent(ctx, event, cdcevent.ReplicationMessage{}, func(cdcevent.LSN) {}))

	committed := cdcevent.LSN(0)
	require.NoError(t, c.HandleCommit(ctx, cdcevent.Transaction{TxID: 1}, cdcevent.ReplicationMessage{DataStart: 42}, func(lsn cdcevent.LSN) { committed = lsn }))
	require.EqualValues(t, 42, committed)
}
