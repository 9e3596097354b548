package main

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nodalflow/pgcdc/pkg/consumer/kafka"
)

// kafkaCmd groups one-shot Kafka provisioning operations an operator runs
// before starting the stream, separate from the streaming run command.
var kafkaCmd = &cobra.Command{
	Use:   "kafka",
	Short: "One-shot Kafka topic and ACL provisioning",
}

var (
	topicPartitions        int32
	topicReplicationFactor int16
)

var kafkaEnsureTopicCmd = &cobra.Command{
	Use:   "ensure-topic <topic>",
	Short: "Create the destination topic if it does not already exist",
	Args:  cobra.ExactArgs(1),
	RunE:  runKafkaEnsureTopic,
}

var kafkaListACLsCmd = &cobra.Command{
	Use:   "list-acls",
	Short: "List ACLs visible to the configured Kafka principal",
	RunE:  runKafkaListACLs,
}

func init() {
	kafkaEnsureTopicCmd.Flags().Int32Var(&topicPartitions, "partitions", 1, "number of partitions for the new topic")
	kafkaEnsureTopicCmd.Flags().Int16Var(&topicReplicationFactor, "replication-factor", 1, "replication factor for the new topic")

	kafkaCmd.AddCommand(kafkaEnsureTopicCmd, kafkaListACLsCmd)
	rootCmd.AddCommand(kafkaCmd)
}

func kafkaAdminConfig() kafka.Config {
	return kafka.Config{
		Brokers:   cfg.Sink.Kafka.Brokers,
		UserName:  cfg.Sink.Kafka.Username,
		Password:  cfg.Sink.Kafka.Password,
		Algorithm: cfg.Sink.Kafka.Algorithm,
		UseTLS:    cfg.Sink.Kafka.UseTLS,
	}
}

func runKafkaEnsureTopic(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("kafka admin: build logger: %w", err)
	}
	defer logger.Sync()

	admin, err := kafka.NewAdmin(kafkaAdminConfig(), logger)
	if err != nil {
		return err
	}
	defer admin.Close()

	return admin.EnsureTopic(args[0], topicPartitions, topicReplicationFactor)
}

func runKafkaListACLs(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("kafka admin: build logger: %w", err)
	}
	defer logger.Sync()

	admin, err := kafka.NewAdmin(kafkaAdminConfig(), logger)
	if err != nil {
		return err
	}
	defer admin.Close()

	acls, err := admin.ListACLs(sarama.AclFilter{
		ResourceType:              sarama.AclResourceAny,
		ResourcePatternTypeFilter: sarama.AclPatternAny,
		PermissionType:            sarama.AclPermissionAny,
		Operation:                 sarama.AclOperationAny,
	})
	if err != nil {
		return err
	}
	for _, resourceAcls := range acls {
		fmt.Printf("%+v\n", resourceAcls)
	}
	return nil
}
