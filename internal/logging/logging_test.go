package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BrandonDHaskell/Portunus/station/internal/logging"
)

func TestNew_JSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "warn", "json")

	logger.Info().Msg("hidden")
	logger.Warn().Str("role", "relay").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["message"] != "shown" || entry["role"] != "relay" || entry["service"] != "station" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, "loud", "json")

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
