// Package pgoutput decodes the binary messages emitted by PostgreSQL's
// pgoutput logical decoding plugin at proto_version=1.
package pgoutput

// TupleKind tags how a TupleData cell should be interpreted.
type TupleKind uint8

const (
	// TupleNull is an SQL NULL column value.
	TupleNull TupleKind = iota
	// TupleUnchangedTOAST marks an out-of-line value that was not
	// modified and was therefore omitted from the message. It must never
	// be read as data.
	TupleUnchangedTOAST
	// TupleText carries the column's canonical text representation.
	TupleText
)

// Cell is one column value inside a TupleData, tagged by wire kind.
type Cell struct {
	Kind TupleKind
	Text []byte // valid only when Kind == TupleText
}

// TupleData is the ordered sequence of column cells following a relation-id
// in Insert/Update/Delete bodies. Its length equals the relation's column
// count.
type TupleData struct {
	Columns []Cell
}

// Column describes one column of a Relation message.
type Column struct {
	Flags    int8
	Name     string
	DataType uint32
	TypeMod  int32
}

// PartOfKey reports whether bit 0 of Flags marks this column as part of the
// relation's replica identity key.
func (c Column) PartOfKey() bool {
	return c.Flags&0x01 != 0
}

// ReplicaIdentity mirrors pg_class.relreplident.
type ReplicaIdentity int8

const (
	ReplicaIdentityDefault ReplicaIdentity = 'd'
	ReplicaIdentityNothing ReplicaIdentity = 'n'
	ReplicaIdentityFull    ReplicaIdentity = 'f'
	ReplicaIdentityIndex   ReplicaIdentity = 'i'
)

// BeginMessage is the 'B' message.
type BeginMessage struct {
	FinalLSN   uint64
	CommitTime int64 // microseconds since 2000-01-01 00:00:00 UTC
	Xid        uint32
}

// CommitMessage is the 'C' message.
type CommitMessage struct {
	Flags      int8
	CommitLSN  uint64
	EndLSN     uint64
	CommitTime int64
}

// OriginMessage is the 'O' message. Decoded but not dispatched to
// consumers; see the replication session's handling of tag 'O'.
type OriginMessage struct {
	CommitLSN uint64
	Name      string
}

// RelationMessage is the 'R' message: the schema frame for a relation id.
type RelationMessage struct {
	RelationID      uint32
	Namespace       string
	RelationName    string
	ReplicaIdentity ReplicaIdentity
	Columns         []Column
}

// InsertMessage is the 'I' message.
type InsertMessage struct {
	RelationID uint32
	New        TupleData
}

// UpdateMessage is the 'U' message. Old is the zero value (nil Columns)
// when the wire carried no old tuple (key-unchanged update under
// REPLICA IDENTITY DEFAULT with no key columns touched... in practice this
// means the update did not touch any replica-identity column).
type UpdateMessage struct {
	RelationID uint32
	OldKind    byte // 0, 'K', or 'O'
	Old        TupleData
	New        TupleData
}

// HasOld reports whether the wire carried an old tuple.
func (m UpdateMessage) HasOld() bool {
	return m.OldKind == 'K' || m.OldKind == 'O'
}

// DeleteMessage is the 'D' message.
type DeleteMessage struct {
	RelationID uint32
	OldKind    byte // 'K' or 'O'
	Old        TupleData
}

// TruncateOptions mirrors the bit flags of the Truncate message.
type TruncateOptions int8

// Cascade reports whether bit 0 (CASCADE) is set.
func (o TruncateOptions) Cascade() bool { return o&0x01 != 0 }

// RestartIdentity reports whether bit 1 (RESTART IDENTITY) is set.
func (o TruncateOptions) RestartIdentity() bool { return o&0x02 != 0 }

// TruncateMessage is the 'T' message.
type TruncateMessage struct {
	Options     TruncateOptions
	RelationIDs []uint32
}

// Message is implemented by every decoded pgoutput message type.
type Message interface {
	isMessage()
}

func (BeginMessage) isMessage()    {}
func (CommitMessage) isMessage()   {}
func (OriginMessage) isMessage()   {}
func (RelationMessage) isMessage() {}
func (InsertMessage) isMessage()   {}
func (UpdateMessage) isMessage()   {}
func (DeleteMessage) isMessage()   {}
func (TruncateMessage) isMessage() {}
