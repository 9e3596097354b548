package mqtt

import (
	"fmt"
	"os"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// client wraps paho.mqtt.golang with structured logging.
type client struct {
	opts   *paho.ClientOptions
	pc     paho.Client
	logger *zap.Logger
}

func newClient(opts *paho.ClientOptions, logger *zap.Logger) *client {
	if logger == nil {
		l, err := zap.NewProduction()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create default logger: %v\n", err)
			l = zap.NewNop()
		}
		logger = l
	}
	return &client{opts: opts, logger: logger}
}

func (c *client) Connect() error {
	c.pc = paho.NewClient(c.opts)
	if token := c.pc.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: broker connection error: %w", token.Error())
	}
	c.logger.Info("connected to mqtt broker")
	return nil
}

func (c *client) Publish(topic string, qos byte, retained bool, payload any) error {
	token := c.pc.Publish(topic, qos, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		c.logger.Error("publish error", zap.Error(err))
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	c.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

func (c *client) Disconnect() {
	if c.pc == nil {
		return
	}
	c.pc.Disconnect(250)
	c.logger.Info("disconnected from mqtt broker")
}
