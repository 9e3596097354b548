// Package mqtt implements a replication.Consumer that publishes each
// change event as a retained-false JSON message to an MQTT topic derived
// from the source table, using paho.mqtt.golang.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/consumer"
	"github.com/nodalflow/pgcdc/pkg/replication"
	"github.com/nodalflow/pgcdc/pkg/util"
)

// Name is the registered name of this sink.
const Name = "mqtt"

// Config describes how to reach the MQTT broker and the topic prefix
// change events are published under.
type Config struct {
	Broker       string
	Username     string
	Password     string
	ClientID     string
	TopicPrefix  string // default "pgcdc"
	QoS          byte
}

// Consumer publishes change events to MQTT.
type Consumer struct {
	client      *client
	topicPrefix string
}

// New connects to the broker described by cfg.
func New(cfg Config, logger *zap.Logger) (*Consumer, error) {
	broker := cfg.Broker
	if broker == "" {
		broker = util.GetEnvOrDefault("PGCDC_MQTT_BROKER", "tcp://127.0.0.1:1883")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("pgcdc-%s", uuid.NewString())
	}
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "pgcdc"
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(clientID)

	c := newClient(opts, logger)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return &Consumer{client: c, topicPrefix: prefix}, nil
}

// Close disconnects from the broker.
func (c *Consumer) Close() {
	c.client.Disconnect()
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
	topic := fmt.Sprintf("%s/%s", c.topicPrefix, table)

	payload := map[string]any{
		"op":     event.Op,
		"key":    event.Key,
		"before": event.Before,
		"after":  event.After,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqtt: marshal change event: %w", err)
	}
	return c.client.Publish(topic, 0, false, data)
}

func (c *Consumer) HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit replication.CommitFunc) error {
	commit(envelope.DataStart)
	return nil
}

// Register installs a ready Consumer under Name; requires live broker
// configuration so it does not self-register from init().
func Register(c *Consumer) {
	consumer.Register(Name, c)
}
