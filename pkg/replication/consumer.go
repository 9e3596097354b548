package replication

import (
	"context"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
)

// CommitFunc advances the session's flush LSN. The session drops any call
// whose lsn is not strictly greater than the last LSN it acknowledged to
// the server, so callers do not need to track monotonicity themselves.
type CommitFunc func(lsn cdcevent.LSN)

// Consumer is the pluggable sink driven by the replication session. Every
// method receives the commit callback directly rather than the session
// mutating a consumer-owned field, so durability bookkeeping never needs
// shared mutable state between session and consumer.
//
// Returning Stop from any method ends the stream gracefully; any other
// error aborts the session and is surfaced to the caller of Session.Run.
type Consumer interface {
	HandleSlotCreated(ctx context.Context, info cdcevent.SlotInitInfo, commit CommitFunc) error
	HandleBegin(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error
	HandleRelation(ctx context.Context, schema *catalog.TableSchema, envelope cdcevent.ReplicationMessage, commit CommitFunc) error
	HandleChangeEvent(ctx context.Context, event *cdcevent.ChangeEvent, envelope cdcevent.ReplicationMessage, commit CommitFunc) error
	HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error
}
