package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# quotefeed configuration

[market]
# Trading calendar: India, US, UK
name = "India"
# Exchange holidays (YYYY-MM-DD) treated as closed days
holidays = []
# Cross-check the open window against the provider's market state
use_oracle = false
# Exit instead of waiting for the next open when the market closes
exit_on_close = false

[provider]
# Market-data provider: "twelvedata" or "kite"
name = "twelvedata"
# Acquisition mode: "rest" (polling) or "websocket" (streaming)
mode = "rest"
timeout = "15s"

[rate_limit]
# Provider credits per rolling minute (Free: 8, Grow: 55, Pro: 800)
per_minute = 55
# Minimum spacing between consecutive quote requests
pace_interval = "200ms"

[polling]
interval = "60s"

[streaming]
max_connections = 8
symbols_per_connection = 10
connect_spacing = "1s"

[reconnect]
max_attempts = 5
initial_delay = "5s"
max_delay = "60s"
cooldown = "60s"

[health]
interval = "60s"
rest_stale_after = "300s"
stream_stale_after = "180s"
key_validation_interval = "1h"

[store]
# Store driver: "mongo" or "sqlite"
driver = "sqlite"
uri = "mongodb://localhost:27017"
database = "smFeeds"
collection = "stocks"
# Exchange payload merge: "overwrite" keeps the latest snapshot,
# "append" also keeps every distinct snapshot in a history list
merge_policy = "overwrite"

[instruments]
# Instrument source: "static", "csv" or "mongo"
source = "static"
symbols = ["RELIANCE", "TCS", "HDFCBANK", "INFY", "ICICIBANK"]

[logging]
level = "info"
console = true
file = true

[notifications]
enabled = false

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
`

const credentialsTemplate = `# quotefeed credentials
# WARNING: Keep this file secure! Do not commit to version control.

[twelvedata]
# Get your free API key from https://twelvedata.com/apikey
api_key = ""

[kite]
api_key = ""
access_token = ""
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

func createTemplateCredentials(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "credentials.toml")
	// Use restricted permissions for credentials file
	if err := os.WriteFile(path, []byte(credentialsTemplate), 0600); err != nil {
		return fmt.Errorf("writing credentials template: %w", err)
	}

	return nil
}
