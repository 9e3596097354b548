package replication

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/metrics"
	"github.com/nodalflow/pgcdc/pkg/pgoutput"
)

// Config configures one replication session.
type Config struct {
	// DSN is passed through to the transport. It must already carry
	// replication=database (pgconn does not infer this).
	DSN string
	// Database names the logical source database for catalog keying;
	// distinct from any name embedded in DSN.
	Database string
	PublicationName string
	SlotName        string
	// StartLSN to resume from; 0 means "the slot's confirmed position"
	// (Design Note (c)).
	StartLSN cdcevent.LSN
	// StandbyTimeout bounds how long the session waits between keepalive
	// checks of the replication socket. Defaults to 10s.
	StandbyTimeout time.Duration
}

func (c Config) standbyTimeout() time.Duration {
	if c.StandbyTimeout > 0 {
		return c.StandbyTimeout
	}
	return 10 * time.Second
}

// Session owns the replication connection and cursor for one scoped run.
// It is not safe for concurrent use: the streaming loop is single-threaded
// cooperative per spec.
type Session struct {
	cfg      Config
	consumer Consumer
	catalog  *catalog.Catalog
	builder  *cdcevent.Builder
	logger   *zap.Logger

	conn *pgconn.PgConn

	lastFlushed atomic.Uint64
	txn         *cdcevent.Transaction
}

// NewSession constructs a Session. resolver supplies the catalog's
// type-name and nullability lookups (typically *sourcedb.Handler).
func NewSession(cfg Config, consumer Consumer, resolver catalog.TypeResolver, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	cat := catalog.New(cfg.Database, resolver)
	return &Session{
		cfg:      cfg,
		consumer: consumer,
		catalog:  cat,
		builder:  cdcevent.NewBuilder(cat),
		logger:   logger,
	}
}

func (s *Session) commitFunc() CommitFunc {
	return func(lsn cdcevent.LSN) {
		for {
			cur := s.lastFlushed.Load()
			if uint64(lsn) <= cur {
				return // out-of-order or duplicate: dropped, not an error
			}
			if s.lastFlushed.CompareAndSwap(cur, uint64(lsn)) {
				metrics.FlushLSN.Set(float64(lsn))
				return
			}
		}
	}
}

// Run executes the full state machine: entry (slot acquisition), the
// streaming loop, and guaranteed resource release on every exit path.
func (s *Session) Run(ctx context.Context) (err error) {
	s.conn, err = pgconn.Connect(ctx, s.cfg.DSN)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("connect: %w", err)}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.conn.Close(closeCtx)
	}()

	startLSN, err := s.enterAcquireSlot(ctx)
	if err != nil {
		return err
	}

	err = s.streamEvents(ctx, startLSN)
	if err != nil {
		if errors.Is(err, Stop) {
			return nil
		}
		return err
	}
	return nil
}

// enterAcquireSlot implements the idle -> awaiting_slot -> streaming
// transition, creating the slot on first use.
func (s *Session) enterAcquireSlot(ctx context.Context) (pglogrepl.LSN, error) {
	startLSN := pglogrepl.LSN(s.cfg.StartLSN)

	pluginArgs := []string{"proto_version '1'", fmt.Sprintf("publication_names '%s'", s.cfg.PublicationName)}

	err := pglogrepl.StartReplication(ctx, s.conn, s.cfg.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: pluginArgs,
	})
	if err == nil {
		return startLSN, nil
	}
	if !isSlotMissing(err) {
		return 0, &TransportError{Err: fmt.Errorf("start replication: %w", err)}
	}

	s.logger.Info("replication slot missing, creating", zap.String("slot", s.cfg.SlotName))

	sysident, err := pglogrepl.IdentifySystem(ctx, s.conn)
	if err != nil {
		return 0, &TransportError{Err: fmt.Errorf("identify system: %w", err)}
	}

	created, err := pglogrepl.CreateReplicationSlot(ctx, s.conn, s.cfg.SlotName, "pgoutput", pglogrepl.CreateReplicationSlotOptions{
		Mode: pglogrepl.LogicalReplication,
	})
	if err != nil {
		return 0, &TransportError{Err: fmt.Errorf("create replication slot: %w", err)}
	}

	info := cdcevent.SlotInitInfo{
		DSN:             s.cfg.DSN,
		PublicationName: s.cfg.PublicationName,
		SlotName:        created.SlotName,
		ConsistentPoint: cdcevent.LSN(sysident.XLogPos),
		Snapshot:        created.SnapshotName,
		Plugin:          "pgoutput",
	}
	if err := s.consumer.HandleSlotCreated(ctx, info, s.commitFunc()); err != nil {
		if errors.Is(err, Stop) {
			return 0, Stop
		}
		return 0, err
	}

	effectiveLSN := startLSN
	if effectiveLSN == 0 {
		effectiveLSN = sysident.XLogPos // Design Note (c): 0 resumes from slot's confirmed position
	}

	if err := pglogrepl.StartReplication(ctx, s.conn, s.cfg.SlotName, effectiveLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: pluginArgs,
	}); err != nil {
		return 0, &TransportError{Err: fmt.Errorf("start replication after slot creation: %w", err)}
	}

	return effectiveLSN, nil
}

// streamEvents is the single-threaded cooperative loop: read one wire
// message, decode it, dispatch, repeat; send keepalive/feedback as needed.
func (s *Session) streamEvents(ctx context.Context, startLSN pglogrepl.LSN) error {
	clientXLogPos := startLSN
	standbyTimeout := s.cfg.standbyTimeout()
	nextStandbyDeadline := time.Now().Add(standbyTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return &TransportError{Err: err}
		}

		if flushed := pglogrepl.LSN(s.lastFlushed.Load()); flushed > 0 {
			if err := s.sendStandbyStatus(ctx, flushed); err != nil {
				return err
			}
		}

		if time.Now().After(nextStandbyDeadline) {
			if err := s.sendStandbyStatus(ctx, pglogrepl.LSN(s.lastFlushed.Load())); err != nil {
				return err
			}
			nextStandbyDeadline = time.Now().Add(standbyTimeout)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextStandbyDeadline)
		rawMsg, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return &TransportError{Err: fmt.Errorf("receive message: %w", err)}
		}

		switch msg := rawMsg.(type) {
		case *pgproto3.CopyData:
			switch msg.Data[0] {
			case pglogrepl.PrimaryKeepaliveMessageByteID:
				pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
				if err != nil {
					return &TransportError{Err: fmt.Errorf("parse keepalive: %w", err)}
				}
				if pkm.ServerWALEnd > clientXLogPos {
					clientXLogPos = pkm.ServerWALEnd
				}
				if pkm.ReplyRequested {
					if err := s.sendStandbyStatus(ctx, pglogrepl.LSN(s.lastFlushed.Load())); err != nil {
						return err
					}
				}

			case pglogrepl.XLogDataByteID:
				xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
				if err != nil {
					return &TransportError{Err: fmt.Errorf("parse xlog data: %w", err)}
				}
				if xld.WALStart+pglogrepl.LSN(len(xld.WALData)) > clientXLogPos {
					clientXLogPos = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
				}

				envelope := cdcevent.ReplicationMessage{
					MessageID: uuid.New(),
					DataStart: cdcevent.LSN(xld.WALStart),
					Payload:   xld.WALData,
					SendTime:  xld.ServerTime,
					DataSize:  len(xld.WALData),
					WalEnd:    cdcevent.LSN(xld.ServerWALEnd),
				}

				if err := s.dispatch(ctx, envelope); err != nil {
					return err
				}
			}
		}
	}
}

// dispatch decodes one wire payload and routes it per the state machine's
// streaming-loop step: Relation updates the catalog, Begin/Commit manage
// the transaction context, Insert/Update/Delete/Truncate build and deliver
// a ChangeEvent, Origin is decoded but not dispatched.
func (s *Session) dispatch(ctx context.Context, envelope cdcevent.ReplicationMessage) error {
	msg, err := pgoutput.Parse(envelope.Payload)
	if err != nil {
		kind := "unknown"
		var decodeErr *pgoutput.DecodeError
		if errors.As(err, &decodeErr) {
			kind = string(decodeErr.Kind)
		}
		metrics.DecodeErrors.WithLabelValues(kind).Inc()
		return err // DecodeError: surfaced, session ends per spec §7
	}

	commit := s.commitFunc()

	switch m := msg.(type) {
	case pgoutput.RelationMessage:
		schema, err := s.catalog.UpsertRelation(ctx, m)
		if err != nil {
			return err
		}
		return unwrapStop(s.consumer.HandleRelation(ctx, schema, envelope, commit))

	case pgoutput.BeginMessage:
		s.txn = &cdcevent.Transaction{TxID: m.Xid, BeginLSN: cdcevent.LSN(m.FinalLSN)}
		return unwrapStop(s.consumer.HandleBegin(ctx, *s.txn, envelope, commit))

	case pgoutput.CommitMessage:
		if s.txn == nil {
			return fmt.Errorf("replication: commit with no open transaction")
		}
		commitLSN := cdcevent.LSN(m.CommitLSN)
		s.txn.CommitLSN = &commitLSN
		s.txn.CommitTS = pgEpoch.Add(time.Duration(m.CommitTime) * time.Microsecond)
		txn := *s.txn
		s.txn = nil
		return unwrapStop(s.consumer.HandleCommit(ctx, txn, envelope, commit))

	case pgoutput.InsertMessage:
		return s.dispatchChangeEvent(ctx, envelope, commit, func() (*cdcevent.ChangeEvent, error) {
			return s.builder.Insert(m, s.currentTxn(), envelope)
		})

	case pgoutput.UpdateMessage:
		return s.dispatchChangeEvent(ctx, envelope, commit, func() (*cdcevent.ChangeEvent, error) {
			return s.builder.Update(m, s.currentTxn(), envelope)
		})

	case pgoutput.DeleteMessage:
		return s.dispatchChangeEvent(ctx, envelope, commit, func() (*cdcevent.ChangeEvent, error) {
			return s.builder.Delete(m, s.currentTxn(), envelope)
		})

	case pgoutput.TruncateMessage:
		return s.dispatchChangeEvent(ctx, envelope, commit, func() (*cdcevent.ChangeEvent, error) {
			return s.builder.Truncate(m, s.currentTxn(), envelope)
		})

	case pgoutput.OriginMessage:
		// decoded so malformed Origin frames still fail loudly, but not
		// dispatched: origin-based filtering is left to a future
		// handle_origin hook. (Open Question (b))
		return nil
	}

	return nil
}

func (s *Session) currentTxn() cdcevent.Transaction {
	if s.txn == nil {
		// a ChangeEvent may exist only while a transaction context is
		// set; dispatchChangeEvent rejects a nil context with an explicit
		// error before building, so this branch only avoids a nil-deref
		// and returns the zero Transaction.
		return cdcevent.Transaction{}
	}
	return *s.txn
}

func (s *Session) dispatchChangeEvent(ctx context.Context, envelope cdcevent.ReplicationMessage, commit CommitFunc, build func() (*cdcevent.ChangeEvent, error)) error {
	if s.txn == nil {
		return fmt.Errorf("replication: change event with no open transaction context")
	}
	event, err := build()
	if err != nil {
		return err
	}
	if event.TableSchema != nil {
		metrics.EventsEmitted.WithLabelValues(event.TableSchema.Table, event.Op.String()).Inc()
	}
	for _, schema := range event.TableSchemata {
		metrics.EventsEmitted.WithLabelValues(schema.Table, event.Op.String()).Inc()
	}
	return unwrapStop(s.consumer.HandleChangeEvent(ctx, event, envelope, commit))
}

func unwrapStop(err error) error {
	if err != nil && errors.Is(err, Stop) {
		return Stop
	}
	return err
}

func (s *Session) sendStandbyStatus(ctx context.Context, flushed pglogrepl.LSN) error {
	err := pglogrepl.SendStandbyStatusUpdate(ctx, s.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: flushed,
		WALFlushPosition: flushed,
		WALApplyPosition: flushed,
	})
	if err != nil {
		return &TransportError{Err: fmt.Errorf("send standby status: %w", err)}
	}
	return nil
}

// pgEpoch is 2000-01-01 00:00:00 UTC, the zero point for pgoutput's
// microsecond timestamps.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
