package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "escrow", cfg.App.Name)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "none", cfg.Kafka.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 100, cfg.Engine.MaxActiveOrders)
	assert.Equal(t, uint64(100), cfg.Engine.MaxQueryCount)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000000e5c0"), cfg.Engine.CustodyAddress)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Empty(t, cfg.Ledger.Assets)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("STORE_DRIVER", "pebble")
	t.Setenv("STORE_PEBBLE_DIR", "/tmp/orders")
	t.Setenv("ENGINE_OWNER", "0x000000000000000000000000000000000000000e")
	t.Setenv("ENGINE_MAX_ACTIVE_ORDERS", "5")
	t.Setenv("KAFKA_DRIVER", "sarama")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUTH_TOKEN_TTL", "30m")
	t.Setenv("LEDGER_ASSETS", "0x000000000000000000000000000000000000aaaa,0x000000000000000000000000000000000000bbbb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "pebble", cfg.Store.Driver)
	assert.Equal(t, "/tmp/orders", cfg.Store.PebbleDir)
	assert.Equal(t, common.HexToAddress("0x0e"), cfg.Engine.Owner)
	assert.Equal(t, 5, cfg.Engine.MaxActiveOrders)
	assert.Equal(t, "sarama", cfg.Kafka.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, []common.Address{
		common.HexToAddress("0xaaaa"),
		common.HexToAddress("0xbbbb"),
	}, cfg.Ledger.Assets)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "UnknownStore", key: "STORE_DRIVER", value: "redis"},
		{name: "UnknownKafka", key: "KAFKA_DRIVER", value: "nats"},
		{name: "ZeroCustody", key: "ENGINE_CUSTODY_ADDRESS", value: "0x0000000000000000000000000000000000000000"},
		{name: "BadAddress", key: "ENGINE_OWNER", value: "alice"},
		{name: "ZeroCapacity", key: "ENGINE_MAX_ACTIVE_ORDERS", value: "0"},
		{name: "CapacityAboveCeiling", key: "ENGINE_MAX_ACTIVE_ORDERS", value: "101"},
		{name: "QueryAboveCeiling", key: "ENGINE_MAX_QUERY_COUNT", value: "1000"},
		{name: "OwnerIsCustody", key: "ENGINE_OWNER", value: "0x000000000000000000000000000000000000e5c0"},
		{name: "DefaultSecretInProduction", key: "APP_ENVIRONMENT", value: "production"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
