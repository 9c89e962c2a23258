package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  request_transitions_topic_name: "shipbox.request.transitions"
redis:
  host: "localhost"
  port: 6379
shipbox:
  http_addr: ":8080"
  kafka_consumer_group: "ship-notifier"
  current_status_ttl_seconds: 600
  admin_ids:
    - "7e9cbb47-24f0-4f30-8fd6-2da85597e1d4"
  fee_percent: "10"
  refund_policy: "full"
  confirm_attempt_limit: 5
  confirm_attempt_window_seconds: 3600
  sweeper_pending_ttl_hours: 72
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "shipbox.request.transitions", cfg.Kafka.RequestTransitionsTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.ShipBox.HTTPAddr)
	require.Len(t, cfg.ShipBox.AdminIDs, 1)
	require.Equal(t, "10", cfg.ShipBox.FeePercent)
	require.Equal(t, "full", cfg.ShipBox.RefundPolicy)
	require.Equal(t, 5, cfg.ShipBox.ConfirmAttemptLimit)
	require.Equal(t, 72, cfg.ShipBox.SweeperPendingTTLHours)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
