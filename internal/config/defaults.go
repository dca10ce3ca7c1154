package config

import (
	"fmt"
	"os"

	"github.com/hugo-lorenzo-mato/marketflow/internal/fsutil"
)

// DefaultConfigPath is where `marketflow init` writes the project config.
const DefaultConfigPath = ".marketflow/config.yaml"

// DefaultConfigYAML is the template written by `marketflow init`.
const DefaultConfigYAML = `# marketflow configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with MARKETFLOW_<SECTION>_<KEY>, e.g. MARKETFLOW_LOG_LEVEL=debug.

log:
  level: info
  format: auto  # auto, text, json

supervisor:
  timeout: 30m            # whole run; 0 disables
  max_parallel: 0         # 0 = dispatch every ready agent at once
  default_max_retries: 3
  default_timeout: 2m
  backoff:
    enabled: true
    base_delay: 1s
    max_delay: 30s

# Per-agent policy. A critical agent that fails permanently fails the run.
agents:
  market_researcher:
    enabled: true
    critical: false
    priority: 50
    max_retries: 3
    timeout: 3m
  company_analyzer:
    enabled: true
    critical: false
    priority: 50
    max_retries: 3
    timeout: 3m
  stock_analyzer:
    enabled: true
    critical: true
    priority: 100
    max_retries: 3
    timeout: 2m
  chart_generator:
    enabled: true
    critical: false
    priority: 40
    max_retries: 3
    timeout: 1m
  report_compiler:
    enabled: true
    critical: true
    priority: 10
    max_retries: 3
    timeout: 1m

intents:
  # Used when no keyword matches the request.
  fallback: [market, company]

state:
  backend: sqlite  # sqlite, json
  path: .marketflow/state/runs.db

search:
  provider: tavily
  # api_key falls back to TAVILY_API_KEY
  max_results: 5
  search_depth: advanced
  rate_limit:
    burst: 5
    per_second: 1   # 0 disables

web:
  enabled: true
  max_pages: 3
  max_tokens: 2000

prices:
  provider: stooq
  cache_dir: .marketflow/cache/prices
  cache_ttl: 2h
  lookback_days: 90
  rate_limit:
    burst: 3
    per_second: 0.5

llm:
  enabled: false
  # api_key falls back to ANTHROPIC_API_KEY
  model: claude-sonnet-4-5
  max_tokens: 1024

documents:
  dir: .marketflow/documents
  chunk_size: 1000
  chunk_overlap: 200
  top_k: 3
  watch: false

output:
  dir: .marketflow/output

events:
  buffer_size: 256
  nats:
    enabled: false
    url: nats://127.0.0.1:4222
    subject_prefix: marketflow

server:
  host: 127.0.0.1
  port: 8080
  cors_origins: ["http://localhost:5173"]
`

// WriteDefaultConfig writes DefaultConfigYAML to path. An existing file is
// kept unless force is set.
func WriteDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
	}
	if err := fsutil.WriteFileAtomicMkdir(path, []byte(DefaultConfigYAML), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
