// Package cdcevent builds transaction-scoped change events from decoded
// pgoutput messages and the schema catalog.
package cdcevent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nodalflow/pgcdc/pkg/catalog"
)

// LSN is a 64-bit monotonic byte position in the source write-ahead log.
// All LSNs surfaced on events are non-decreasing within a session.
type LSN uint64

// Op identifies the kind of row change an event carries.
type Op byte

const (
	OpInsert   Op = 'I'
	OpUpdate   Op = 'U'
	OpDelete   Op = 'D'
	OpTruncate Op = 'T'
)

func (o Op) String() string {
	return string(rune(o))
}

// MarshalJSON renders Op as its single-character string form ("I", "U",
// "D", "T") instead of its underlying byte value, so sink payloads stay
// human-readable.
func (o Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// ReplicationMessage is the raw envelope around one decoded wire message.
// Immutable once constructed.
type ReplicationMessage struct {
	MessageID uuid.UUID
	DataStart LSN
	Payload   []byte
	SendTime  time.Time
	DataSize  int
	WalEnd    LSN
}

// Transaction is the context live between a Begin and its matching Commit.
type Transaction struct {
	TxID     uint32
	BeginLSN LSN
	// CommitLSN is nil until the commit message is observed.
	CommitLSN *LSN
	CommitTS  time.Time
}

// ChangeEvent is one Insert/Update/Delete/Truncate row change, with typed
// before/after/key images and the schema(s) it was validated against.
type ChangeEvent struct {
	Op            Op
	MessageID     uuid.UUID
	LSN           LSN
	Transaction   Transaction
	TableSchema   *catalog.TableSchema
	TableSchemata []*catalog.TableSchema // populated only for Op == OpTruncate
	Before        map[string]any
	After         map[string]any
	Key           map[string]any
}

// SlotInitInfo describes a freshly created replication slot, delivered to
// the consumer's handle_slot_created hook.
type SlotInitInfo struct {
	DSN             string
	PublicationName string
	SlotName        string
	ConsistentPoint LSN
	Snapshot        string
	Plugin          string
}
