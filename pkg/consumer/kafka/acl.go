package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Admin wraps a sarama.ClusterAdmin for the topic and ACL provisioning an
// operator runs once before starting the CDC stream (e.g. via a one-shot
// cmd/pgcdc subcommand), separate from the streaming Consumer above.
type Admin struct {
	admin  sarama.ClusterAdmin
	logger *zap.Logger
}

// NewAdmin connects a cluster admin client using cfg's broker list and
// SASL/TLS settings.
func NewAdmin(cfg Config, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conf, brokers, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	admin, err := sarama.NewClusterAdmin(brokers, conf)
	if err != nil {
		return nil, fmt.Errorf("kafka: new cluster admin: %w", err)
	}
	return &Admin{admin: admin, logger: logger}, nil
}

func (a *Admin) Close() error {
	return a.admin.Close()
}

// EnsureTopic creates topic if it does not already exist.
func (a *Admin) EnsureTopic(topic string, partitions int32, replicationFactor int16) error {
	topics, err := a.admin.ListTopics()
	if err != nil {
		return fmt.Errorf("kafka: list topics: %w", err)
	}
	if _, exists := topics[topic]; exists {
		return nil
	}
	detail := &sarama.TopicDetail{NumPartitions: partitions, ReplicationFactor: replicationFactor}
	if err := a.admin.CreateTopic(topic, detail, false); err != nil {
		return fmt.Errorf("kafka: create topic %q: %w", topic, err)
	}
	a.logger.Info("created kafka topic", zap.String("topic", topic))
	return nil
}

// CreateACL grants acl on resource.
func (a *Admin) CreateACL(resource sarama.Resource, acl sarama.Acl) error {
	if err := a.admin.CreateACL(resource, acl); err != nil {
		return fmt.Errorf("kafka: create acl: %w", err)
	}
	a.logger.Info("created kafka acl", zap.Any("resource", resource), zap.Any("acl", acl))
	return nil
}

// ListACLs returns ACLs matching filter.
func (a *Admin) ListACLs(filter sarama.AclFilter) ([]sarama.ResourceAcls, error) {
	acls, err := a.admin.ListAcls(filter)
	if err != nil {
		return nil, fmt.Errorf("kafka: list acls: %w", err)
	}
	return acls, nil
}
