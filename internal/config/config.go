package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	// ServerURL is the base URL of the livefeed server API.
	ServerURL string
	// Token is the bearer token used for REST and stream authentication.
	Token string

	// HomeDir is the directory where livefeed stores local state.
	HomeDir string
	// AssistSessionFile is the path to the persisted chatbot session id.
	AssistSessionFile string
	// DeviceIDFile is the path to the persisted stable device id.
	DeviceIDFile string

	// PushoverToken and PushoverUserKey enable out-of-band forwarding of
	// urgent notifications when both are set.
	PushoverToken   string
	PushoverUserKey string

	// Debug enables verbose logging.
	Debug bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	livefeedHome := os.Getenv("LIVEFEED_HOME_DIR")
	if livefeedHome == "" {
		livefeedHome = filepath.Join(homeDir, ".livefeed")
	}
	if err := os.MkdirAll(livefeedHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create livefeed home: %w", err)
	}

	serverURL := os.Getenv("LIVEFEED_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.livefeed.dev"
	}

	token := os.Getenv("LIVEFEED_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("LIVEFEED_TOKEN is required")
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = os.Getenv("LIVEFEED_DEBUG") == "true" || os.Getenv("LIVEFEED_DEBUG") == "1"
	}

	return &Config{
		ServerURL:         serverURL,
		Token:             token,
		HomeDir:           livefeedHome,
		AssistSessionFile: filepath.Join(livefeedHome, "assist.session"),
		DeviceIDFile:      filepath.Join(livefeedHome, "device.id"),
		PushoverToken:     os.Getenv("LIVEFEED_PUSHOVER_TOKEN"),
		PushoverUserKey:   os.Getenv("LIVEFEED_PUSHOVER_USER_KEY"),
		Debug:             debug,
	}, nil
}
