package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rowanhale/hearth-core/internal/infrastructure/config"
	"github.com/rowanhale/hearth-core/internal/infrastructure/history"
)

// testConfig returns a configuration for the local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "hearth-dev-token",
		Org:           "hearth",
		Bucket:        "history",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// requireInfluxDB skips the test if InfluxDB is not running locally.
func requireInfluxDB(t *testing.T) *history.Client {
	t.Helper()
	client, err := history.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := requireInfluxDB(t)
	defer client.Close() //nolint:errcheck // Test cleanup

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := history.Connect(cfg)
	if !errors.Is(err, history.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	if _, err := history.Connect(cfg); err == nil {
		t.Fatal("Connect() should return error for invalid URL")
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	client := requireInfluxDB(t)
	defer client.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWritePoint(t *testing.T) {
	client := requireInfluxDB(t)
	defer client.Close() //nolint:errcheck // Test cleanup

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WritePoint(
		"device_state",
		map[string]string{"device_id": "test-pod", "feature": "target_temperature"},
		map[string]interface{}{"value": 21.0},
	)
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

func TestWritePointWithTime(t *testing.T) {
	client := requireInfluxDB(t)
	defer client.Close() //nolint:errcheck // Test cleanup

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	timestamp := time.Now().Add(-1 * time.Hour)
	client.WritePointWithTime(
		"device_availability",
		map[string]string{"device_id": "test-pod"},
		map[string]interface{}{"available": true},
		timestamp,
	)
	client.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("Write error = %v", writeErr)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	client := requireInfluxDB(t)

	client.WritePoint("device_state",
		map[string]string{"device_id": "close-test", "feature": "volume"},
		map[string]interface{}{"value": 1.0})

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestClose_Nil(t *testing.T) {
	var client *history.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
