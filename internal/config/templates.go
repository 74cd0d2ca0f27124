package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Execution Policy Layer Configuration

[pipeline]
# Candidates older than this are rejected at validation entry
freshness_window = "5m"
# Hard end-to-end latency ceiling (advisory, logged when exceeded)
hard_ceiling = "800ms"
# Per-stage advisory budgets
validate_budget = "50ms"
route_budget = "30ms"
evaluate_budget = "150ms"
risk_budget = "80ms"
classify_budget = "40ms"
dispatch_budget = "100ms"
# Load shedding: degrade to ignore-only evaluation above these thresholds
shed_cpu_percent = 85.0
shed_inflight = 256
# Rolling latency window size for status reporting
latency_window = 512

[engines.replacement]
min_confidence_improvement = 0.15
min_position_age = "5m"
min_score = 0.75
max_unrealized_loss = 0.05
max_volatility = 0.08
max_size_ratio = 1.5

[engines.strengthening]
min_confidence_improvement = 0.08
min_score = 0.70
max_volatility = 0.06
max_additional_ratio = 0.5
high_volatility = 0.04
max_total_exposure = 0.30

[engines.new_position]
min_quality = 0.80
max_positions = 8
min_score = 0.70
min_liquidity = 0.6
kelly_floor = 0.005
kelly_cap = 0.05
stop_loss_atr = 2.0
take_profit_atr = 4.0
target_volatility = 0.03
volatility_band = 0.02

[engines.ignore]
override_threshold = 0.5
quality_weight = 0.30
redundancy_weight = 0.25
timing_weight = 0.25
risk_weight = 0.20
extreme_volatility = 0.08
thin_liquidity = 0.3

[risk]
max_concurrent_positions = 8
max_correlation = 0.70
max_sector_concentration = 0.40
max_daily_var = 0.05
max_position_percent = 0.15
trailing_stop_gain = 0.015

[priority]
quality_weight = 0.30
urgency_weight = 0.25
confidence_weight = 0.25
risk_reward_weight = 0.20

[[priority.classes]]
name = "CRITICAL"
threshold = 0.85
min_execution_confidence = 0.80

[[priority.classes]]
name = "HIGH"
threshold = 0.70
min_execution_confidence = 0.60

[[priority.classes]]
name = "MEDIUM"
threshold = 0.50
min_execution_confidence = 0.40

[[priority.classes]]
name = "LOW"
threshold = 0.0
min_execution_confidence = 0.0

[notifications]
enabled = true
queue_size = 1024
# Batch delays per priority class
high_delay = "300s"
medium_delay = "1800s"
# End-of-day digest flush (cron, with seconds field)
digest_cron = "30 17 * * *"

[notifications.webhook]
enabled = false
url = ""
primary = true

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""
primary = true

[notifications.terminal]
enabled = true

[store]
# SQLite audit log path (empty uses the default config dir)
path = ""

[server]
enabled = false
addr = ":8870"
`

// createTemplateConfig writes a commented template config file so users
// have a starting point on first run.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// WriteTemplate writes the template config into the directory unless a
// config file already exists there.
func WriteTemplate(configDir string) error {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return createTemplateConfig(configDir)
}
