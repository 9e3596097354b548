package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
)

// Config describes how to reach and authenticate against a Kafka cluster,
// and which topic change events are produced to.
type Config struct {
	Brokers       string
	Version       string
	UserName      string
	Password      string
	Algorithm     string // "sha256" or "sha512"; empty means "sha512". SASL is enabled only when UserName is set
	Topic         string
	CertFile      string
	KeyFile       string
	CAFile        string
	TLSSkipVerify bool
	UseTLS        bool
}

// ConfigFromEnv populates a Config from KAFKA_* environment variables,
// falling back to sarama's default protocol version.
func ConfigFromEnv() Config {
	return Config{
		Brokers:   os.Getenv("KAFKA_BROKERS"),
		Version:   sarama.DefaultVersion.String(),
		UserName:  os.Getenv("KAFKA_SASL_USERNAME"),
		Password:  os.Getenv("KAFKA_SASL_PASSWORD"),
		Algorithm: "sha512",
		Topic:     os.Getenv("KAFKA_DEFAULT_TOPIC"),
	}
}

func createTLSConfiguration(skipVerify bool, certFile, keyFile, caFile string) (*tls.Config, error) {
	t := &tls.Config{InsecureSkipVerify: skipVerify}
	if certFile == "" || keyFile == "" || caFile == "" {
		return t, nil
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("kafka: load keypair: %w", err)
	}
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("kafka: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		RootCAs:            pool,
		InsecureSkipVerify: skipVerify,
	}, nil
}

// saramaConfig builds a *sarama.Config and the broker list from cfg,
// wiring SASL/SCRAM and TLS when requested.
func saramaConfig(cfg Config) (*sarama.Config, []string, error) {
	if cfg.Brokers == "" {
		return nil, nil, fmt.Errorf("kafka: at least one broker is required")
	}
	brokers := strings.Split(cfg.Brokers, ",")

	version := sarama.DefaultVersion
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka: parse version: %w", err)
		}
		version = v
	}

	conf := sarama.NewConfig()
	conf.Producer.Retry.Max = 3
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Version = version
	conf.ClientID = "pgcdc"
	conf.Metadata.Full = true

	if cfg.UserName != "" {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = cfg.UserName
		conf.Net.SASL.Password = cfg.Password
		conf.Net.SASL.Handshake = true

		switch cfg.Algorithm {
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "sha512", "":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, nil, fmt.Errorf("kafka: invalid SASL algorithm %q: must be sha256 or sha512", cfg.Algorithm)
		}
	}

	if cfg.UseTLS {
		tlsConf, err := createTLSConfiguration(cfg.TLSSkipVerify, cfg.CertFile, cfg.KeyFile, cfg.CAFile)
		if err != nil {
			return nil, nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConf
	}

	return conf, brokers, nil
}
