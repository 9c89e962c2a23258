package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipBox  ShipBoxConfig  `yaml:"shipbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                        string `yaml:"host"`
	Port                        int    `yaml:"port"`
	RequestTransitionsTopicName string `yaml:"request_transitions_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShipBoxConfig struct {
	HTTPAddr                string   `yaml:"http_addr"`
	KafkaConsumerGroup      string   `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int      `yaml:"current_status_ttl_seconds"`
	AdminIDs                []string `yaml:"admin_ids"`

	// Платёжная экономика. fee_percent — комиссия платформы в процентах,
	// refund_policy — "full" | "net_of_fee".
	FeePercent   string `yaml:"fee_percent"`
	RefundPolicy string `yaml:"refund_policy"`

	// Анти-брутфорс кода подтверждения.
	ConfirmAttemptLimit         int `yaml:"confirm_attempt_limit"`
	ConfirmAttemptWindowSeconds int `yaml:"confirm_attempt_window_seconds"`

	// Внешний платёжный шлюз. Пустой base_url — локальный fake (для демо).
	PaymentGatewayBaseURL string `yaml:"payment_gateway_base_url"`
	PaymentGatewayAPIKey  string `yaml:"payment_gateway_api_key"`

	// Свипер протухших pending-заявок.
	SweeperHTTPAddr             string `yaml:"sweeper_http_addr"`
	SweeperIntervalSeconds      int    `yaml:"sweeper_interval_seconds"`
	SweeperPendingTTLHours      int    `yaml:"sweeper_pending_ttl_hours"`
	SweeperBatchSize            int    `yaml:"sweeper_batch_size"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
