package e2e

import (
	"fmt"
	"os"
	"testing"
)

// e2eIngestOptions selects enabled ingest interfaces.
// Params: HTTP port, NATS URL, and NATS enable flag.
// Returns: ingest prefix options.
type e2eIngestOptions struct {
	Port        int
	NATSURL     string
	NATSEnabled bool
}

// e2eConfigPrefix builds common service/log/ingest config used in e2e tests.
// Params: ingest options.
// Returns: TOML prefix string with stable defaults.
func e2eConfigPrefix(opts e2eIngestOptions) string {
	natsURL := opts.NATSURL
	if natsURL == "" {
		natsURL = "nats://127.0.0.1:4222"
	}
	return fmt.Sprintf(`
[service]
name = "qgnotify-e2e"

[log.console]
enabled = true
level = "error"
format = "line"

[ingest.http]
enabled = true
listen = "127.0.0.1:%d"
health_path = "/healthz"
ready_path = "/readyz"
ingest_path = "/analysis"
max_body_bytes = 1048576

[ingest.nats]
enabled = %t
url = ["%s"]
ack_wait_sec = 5
nack_delay_ms = 100
max_deliver = 3

[webhook]
connect_timeout_sec = 2
timeout_sec = 2
`, opts.Port, opts.NATSEnabled, natsURL)
}

// e2eNotifySettings builds the settings namespace with one routed project rule.
// Params: webhook base URL, default channel, and rule channel.
// Returns: TOML settings section.
func e2eNotifySettings(hookURL, defaultChannel, ruleChannel string) string {
	return fmt.Sprintf(`
[settings.server]
base_url = "https://sonar.e2e"

[settings.notify]
enabled = true
user = "Quality Bot"
channel = %q
hook = "%s/default"
include_branch = true
rules = ["core"]

[settings.notify.rule.core]
project = "core-.*"
channel = %q
hook = "%s/core"
qg = true
notify = "channel"
`, defaultChannel, hookURL, ruleChannel, hookURL)
}

// writeConfig writes one TOML config file for a scenario.
func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// analysisJSON renders one analysis event for project and gate status.
func analysisJSON(projectKey, gateStatus string) string {
	return fmt.Sprintf(`{
  "taskId": "E2E",
  "status": "SUCCESS",
  "project": {"key": %q, "name": %q},
  "branch": {"name": "feature/x", "type": "BRANCH", "isMain": false},
  "qualityGate": {
    "name": "Sonar way",
    "status": %q,
    "conditions": [
      {"metric": "new_coverage", "operator": "LESS_THAN", "status": "ERROR", "value": "0.0", "errorThreshold": "80.0"},
      {"metric": "new_bugs", "operator": "GREATER_THAN", "status": "OK", "value": "0", "errorThreshold": "0"}
    ]
  }
}`, projectKey, projectKey, gateStatus)
}
