package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())

	cfg, err := Load()
	req.NoError(err)

	req.Equal("8080", cfg.ServerPort)
	req.Equal(DriverMongo, cfg.StoreDriver)
	req.Equal(DriverNATS, cfg.BusDriver)
	req.Equal(time.Minute, cfg.RateLimitWindow)
	req.Equal(30*time.Second, cfg.SSEHeartbeatInterval)
	req.Equal([]string{"https://*", "http://*"}, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("BUS_DRIVER", "memory")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("RATE_LIMIT_REQUESTS", "10")

	cfg, err := Load()
	req.NoError(err)

	req.Equal(DriverMemory, cfg.StoreDriver)
	req.Equal(DriverMemory, cfg.BusDriver)
	req.Equal(5*time.Second, cfg.WSPingInterval)
	req.Equal(10, cfg.RateLimitRequests)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	req := require.New(t)
	chdir(t, t.TempDir())
	t.Setenv("STORE_DRIVER", "postgres")

	_, err := Load()
	req.Error(err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
