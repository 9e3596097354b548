// Package nats implements a replication.Consumer that publishes change
// events as JSON onto NATS subjects derived from the source table,
// following the same publish-per-event shape as the mqtt and kafka sinks.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/consumer"
	"github.com/nodalflow/pgcdc/pkg/replication"
)

// Name is the registered name of this sink.
const Name = "nats"

// Config describes how to reach the NATS server and the subject prefix
// change events are published under.
type Config struct {
	URL           string // default nats.DefaultURL
	SubjectPrefix string // default "pgcdc"
	Credentials   string // path to a .creds file, optional
}

// Consumer publishes change events to NATS subjects.
type Consumer struct {
	Logger        *zap.Logger
	subjectPrefix string
	conn          *nats.Conn
}

// New connects to the NATS server described by cfg.
func New(cfg Config, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "pgcdc"
	}

	opts := []nats.Option{nats.Name("pgcdc")}
	if cfg.Credentials != "" {
		opts = append(opts, nats.UserCredentials(cfg.Credentials))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	return &Consumer{Logger: logger, subjectPrefix: prefix, conn: conn}, nil
}

// Close drains and closes the connection.
func (c *Consumer) Close() {
	if c.conn == nil {
		return
	}
	c.conn.Drain()
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
	table, _ := event.Key["table"].(string)
	if table == "" {
		table = "unknown"
	}
	subject := fmt.Sprintf("%s.%s", c.subjectPrefix, table)

	payload := map[string]any{
		"op":     event.Op,
		"key":    event.Key,
		"before": event.Before,
		"after":  event.After,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("nats: marshal change event: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

func (c *Consumer) HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("nats: flush: %w", err)
	}
	commit(envelope.DataStart)
	return nil
}

// Register installs a ready Consumer under Name; requires a live server
// connection so it does not self-register from init().
func Register(c *Consumer) {
	consumer.Register(Name, c)
}
