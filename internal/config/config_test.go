package config_test

import (
	"testing"

	"github.com/BrandonDHaskell/Portunus/station/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"STATION_HTTP_ADDR", "STATION_ENV", "STATION_DB_PATH", "STATION_BAUD_RATE",
		"STATION_RECONNECT_SECONDS", "STATION_FP_MAX_SLOT", "STATION_RFID_GRAB",
		"STATION_LOG_RETENTION_DAYS", "STATION_PRUNE_INTERVAL_HOURS",
		"STATION_DEV_RFID_CARDS", "STATION_LOG_LEVEL", "STATION_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}

	cfg := config.FromEnv()

	if cfg.HTTPAddr != ":8080" || cfg.Env != "dev" || cfg.DBPath != "./data/station.db" {
		t.Errorf("unexpected basics %+v", cfg)
	}
	if cfg.BaudRate != 9600 || cfg.ReconnectSeconds != 5 || cfg.FPMaxSlot != 63 || !cfg.RFIDGrab {
		t.Errorf("unexpected device defaults %+v", cfg)
	}
	if cfg.LogRetentionDays != 0 || cfg.PruneIntervalHours != 6 {
		t.Errorf("unexpected retention defaults %+v", cfg)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("unexpected log defaults %+v", cfg)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STATION_ENV", "PROD")
	t.Setenv("STATION_GRPC_ADDR", "")
	t.Setenv("STATION_BAUD_RATE", "115200")
	t.Setenv("STATION_FP_MAX_SLOT", "0")
	t.Setenv("STATION_RFID_GRAB", "false")
	t.Setenv("STATION_LOG_RETENTION_DAYS", "90")
	t.Setenv("STATION_DEV_RFID_CARDS", "Rina:ABC123, Agus:XYZ789 ,")
	t.Setenv("STATION_LOG_FORMAT", "yaml")

	cfg := config.FromEnv()

	if cfg.Env != "prod" {
		t.Errorf("expected prod, got %q", cfg.Env)
	}
	if cfg.GRPCAddr != "" {
		t.Errorf("expected explicit empty grpc addr, got %q", cfg.GRPCAddr)
	}
	if cfg.BaudRate != 115200 {
		t.Errorf("expected 115200, got %d", cfg.BaudRate)
	}
	if cfg.FPMaxSlot != 63 {
		t.Errorf("expected zero max slot to fall back to 63, got %d", cfg.FPMaxSlot)
	}
	if cfg.RFIDGrab {
		t.Error("expected grab disabled")
	}
	if cfg.LogRetentionDays != 90 {
		t.Errorf("expected 90, got %d", cfg.LogRetentionDays)
	}
	if len(cfg.DevRFIDCards) != 2 || cfg.DevRFIDCards[1] != "Agus:XYZ789" {
		t.Errorf("unexpected dev cards %v", cfg.DevRFIDCards)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("expected unknown format to fall back to json, got %q", cfg.LogFormat)
	}
}
