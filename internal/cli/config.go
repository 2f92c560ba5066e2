package cli

import (
	"os"

	"github.com/mcoot/planning-poker/internal/resume"
	"github.com/mcoot/planning-poker/internal/roomclient"
)

// Config holds CLI configuration
type Config struct {
	ServerURL string
	StateFile string
	Transport string
	PlayerID  string
	Output    string
	Verbose   bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL: getEnvOrDefault("POKER_SERVER", "http://localhost:8080"),
		StateFile: getEnvOrDefault("POKER_STATE_FILE", resume.DefaultPath()),
		Transport: getEnvOrDefault("POKER_TRANSPORT", roomclient.TransportSSE),
		PlayerID:  os.Getenv("POKER_PLAYER"),
		Output:    "text",
		Verbose:   false,
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
