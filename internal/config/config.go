package config

import (
	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// DbUri is the state store connection string (DATABASE_URL, §6).
	DbUri string

	// LogsRoot and UploadsRoot are the only two host paths ever mounted
	// into a worker container (§6) — read-write and read-only respectively.
	LogsRoot    = env.GetEnvOrDefault("LOGS_ROOT", "./data/logs")
	UploadsRoot = env.GetEnvOrDefault("UPLOADS_ROOT", "./data/uploads")

	// RedactionEnabled turns on the log-pattern substitution hook (§4.J).
	RedactionEnabled = env.GetEnvAsBoolOrDefault("REDACTION_ENABLED", "true")

	// LLMEndpoint is the HTTP completions endpoint tasks call through
	// internal/tasks.HTTPLLMClient (§6 LLM endpoint contract).
	LLMEndpoint = env.GetEnvOrDefault("LLM_ENDPOINT", "")

	// SMTP relay configuration for the notification sink's email target
	// (§4.I). Left blank, each email target's delivery fails at send time
	// and its RunNotification is marked failed.
	SMTPAddr     = env.GetEnvOrDefault("SMTP_ADDR", "")
	SMTPFrom     = env.GetEnvOrDefault("SMTP_FROM", "")
	SMTPUsername = env.GetEnvOrDefault("SMTP_USERNAME", "")
	SMTPPassword = env.GetEnvOrDefault("SMTP_PASSWORD", "")

	// Host health monitor tuning (§5 staleness threshold, §4.C probe loop),
	// read from the environment. The cmd/ entry points do not consult these
	// two vars; they pass a fixed 30s probe interval and 5m staleness
	// threshold to hosts.New.
	HostProbeIntervalSeconds = env.GetEnvAsIntOrDefault("HOST_PROBE_INTERVAL_SECONDS", "30")
	HostStalenessSeconds     = env.GetEnvAsIntOrDefault("HOST_STALENESS_SECONDS", "300")
)
