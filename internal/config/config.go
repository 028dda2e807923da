package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string // "" disables the health server

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/station.db"

	// Devices
	BaudRate         int
	ReconnectSeconds int
	FPMaxSlot        int
	RFIDGrab         bool

	// Access log retention
	LogRetentionDays   int // 0 = keep forever
	PruneIntervalHours int // how often the pruner runs (default 6)

	// Dev seeding, "name:card" entries
	DevRFIDCards []string

	LogLevel  string
	LogFormat string // "json" | "console"
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("STATION_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	format := strings.ToLower(getenvDefault("STATION_LOG_FORMAT", "json"))
	if format != "json" && format != "console" {
		format = "json"
	}

	return Config{
		HTTPAddr: getenvDefault("STATION_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvAllowEmpty("STATION_GRPC_ADDR", ":9090"),
		Env:      env,
		DBPath:   getenvDefault("STATION_DB_PATH", "./data/station.db"),

		BaudRate:         getenvPositive("STATION_BAUD_RATE", 9600),
		ReconnectSeconds: getenvPositive("STATION_RECONNECT_SECONDS", 5),
		FPMaxSlot:        getenvPositive("STATION_FP_MAX_SLOT", 63),
		RFIDGrab:         getenvBool("STATION_RFID_GRAB", true),

		LogRetentionDays:   getenvInt("STATION_LOG_RETENTION_DAYS", 0),
		PruneIntervalHours: getenvInt("STATION_PRUNE_INTERVAL_HOURS", 6),

		DevRFIDCards: splitCSV(os.Getenv("STATION_DEV_RFID_CARDS")),

		LogLevel:  strings.ToLower(getenvDefault("STATION_LOG_LEVEL", "info")),
		LogFormat: format,
	}
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// getenvAllowEmpty returns def only when key is unset, so an explicit
// empty value can switch a listener off.
func getenvAllowEmpty(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvPositive(key string, def int) int {
	if n := getenvInt(key, def); n > 0 {
		return n
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
