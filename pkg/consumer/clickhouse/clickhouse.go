// Package clickhouse implements a replication.Consumer that appends change
// events to a ClickHouse table, one row per change, using the native
// protocol driver.
package clickhouse

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	chgo "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/consumer"
	"github.com/nodalflow/pgcdc/pkg/replication"
)

// Name is the registered name of this sink.
const Name = "clickhouse"

// Config describes how to reach the ClickHouse cluster and which table
// change events land in. Each change event is inserted into the columns
// (op, key, before, after) of the destination table; key, before and after
// are JSON-encoded strings.
type Config struct {
	Addr           []string
	Database       string
	Username       string
	Password       string
	UseTLS         bool
	TLSSkipVerify  bool
	DestTable      string
}

// Consumer writes change events to ClickHouse via the native driver.
type Consumer struct {
	Logger *zap.Logger
	Table  string
	conn   chgo.Conn
}

// New opens a ClickHouse connection per cfg.
func New(cfg Config, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &chgo.Options{
		Addr:     cfg.Addr,
		Protocol: chgo.Native,
		Auth: chgo.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}
	if cfg.UseTLS {
		opts.TLS = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}

	conn, err := chgo.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}
	return &Consumer{Logger: logger, Table: cfg.DestTable, conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Consumer) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Consumer) HandleSlotCreated(ctx context.Context, info cdcevent.SlotInitInfo, commit replication.CommitFunc) error {
	return nil
}

func (c *Consumer) HandleBegin(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	return nil
}

func (c *Consumer) HandleRelation(ctx context.Context, schema *catalog.TableSchema, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	return nil
}

func (c *Consumer) HandleChangeEvent(ctx context.Context, event *cdcevent.ChangeEvent, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	keyJSON, err := json.Marshal(event.Key)
	if err != nil {
		return fmt.Errorf("clickhouse: marshal key: %w", err)
	}
	beforeJSON, err := json.Marshal(event.Before)
	if err != nil {
		return fmt.Errorf("clickhouse: marshal before: %w", err)
	}
	afterJSON, err := json.Marshal(event.After)
	if err != nil {
		return fmt.Errorf("clickhouse: marshal after: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (op, key, before, after) VALUES (?, ?, ?, ?)`, c.Table)
	if err := c.conn.Exec(ctx, query, string(event.Op), string(keyJSON), string(beforeJSON), string(afterJSON)); err != nil {
		return fmt.Errorf("clickhouse: insert: %w", err)
	}
	return nil
}

func (c *Consumer) HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	commit(envelope.DataStart)
	return nil
}

// Register installs a ready Consumer under Name; like kafka, this sink
// requires live connection configuration so it does not self-register
// from init().
func Register(c *Consumer) {
	consumer.Register(Name, c)
}
