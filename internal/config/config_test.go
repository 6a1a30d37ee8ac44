package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.SchedulerInterval)
	assert.Equal(t, 100, cfg.Pipeline.ReceiptBatchSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.ReceiptFlushInterval)
	assert.Equal(t, 100, cfg.Pipeline.FanoutBatchSize)
	assert.Equal(t, "drop", cfg.Pipeline.RejectPolicy)
	assert.Equal(t, 10000, cfg.Pipeline.ReceiptBufferMax)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_RequiresPassword(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("PIPELINE_RECEIPT_BATCH_SIZE", "25")
	t.Setenv("PIPELINE_RECEIPT_FLUSH_INTERVAL", "250ms")
	t.Setenv("PIPELINE_REJECT_POLICY", "dead_letter")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Pipeline.ReceiptBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.ReceiptFlushInterval)
	assert.Equal(t, "dead_letter", cfg.Pipeline.RejectPolicy)
}

func TestValidate_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("PIPELINE_REJECT_POLICY", "shred")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_BufferHoldsAtLeastOneBatch(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("PIPELINE_RECEIPT_BATCH_SIZE", "500")
	t.Setenv("PIPELINE_RECEIPT_BUFFER_MAX", "100")

	_, err := Load()
	assert.ErrorContains(t, err, "PIPELINE_RECEIPT_BUFFER_MAX")
}

func TestGetDatabaseDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: "5432", User: "u", Password: "p", DBName: "crm", SSLMode: "disable",
	}}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=crm sslmode=disable", cfg.GetDatabaseDSN())
}

func TestGetRabbitMQURL(t *testing.T) {
	cfg := &Config{RabbitMQ: RabbitMQConfig{Host: "mq", Port: "5672", User: "guest", Password: "guest", VHost: "/"}}
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.GetRabbitMQURL())

	cfg.RabbitMQ.VHost = "crm"
	assert.Equal(t, "amqp://guest:guest@mq:5672/crm", cfg.GetRabbitMQURL())
}

func TestLoadVendor(t *testing.T) {
	t.Setenv("VENDOR_SUCCESS_RATE", "0.75")

	cfg, err := LoadVendor()
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Vendor.SuccessRate)
	assert.Equal(t, "9000", cfg.Vendor.Port)

	t.Setenv("VENDOR_SUCCESS_RATE", "1.5")
	_, err = LoadVendor()
	assert.Error(t, err)
}
