// Package redact implements the §4.J log-pattern redaction filter: a
// logrus hook that scrubs credential-shaped substrings from formatted log
// lines before they reach any output. Grounded on
// orchestrator/security_guardrails.py's redact_sensitive_content and
// RedactingLogger — the patterns and their literal replacement tokens are
// carried over unchanged, only the regex engine and the hook mechanism
// differ (Go's logrus.Hook instead of overriding Logger._log).
package redact

import (
	"regexp"

	"github.com/sirupsen/logrus"
)

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

var patterns = []pattern{
	{regexp.MustCompile(`(?i)api[_-]?key["']?\s*[=:]\s*[^\s"',]+`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`(?i)token["']?\s*[=:]\s*[^\s"',]+`), "[REDACTED_TOKEN]"},
	{regexp.MustCompile(`(?i)password["']?\s*[=:]\s*[^\s"',]+`), "[REDACTED_PASSWORD]"},
	{regexp.MustCompile(`(?i)authorization["']?\s*[=:]\s*bearer\s+[^\s"',]+`), "[REDACTED_AUTH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[REDACTED_IP]"},
}

// Redact applies every pattern in order, matching
// security_guardrails.py's redact_sensitive_content.
func Redact(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}

// Hook is a logrus.Hook applied to every level, rewriting Message and any
// string-valued Data entries in place before the entry is formatted.
// Enabled gates whether redaction runs at all — when false the hook is a
// no-op, matching the original's DEBUG_REDACTED_MODE toggle.
type Hook struct {
	Enabled bool
}

func NewHook(enabled bool) *Hook { return &Hook{Enabled: enabled} }

func (h *Hook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *Hook) Fire(entry *logrus.Entry) error {
	if !h.Enabled {
		return nil
	}
	entry.Message = Redact(entry.Message)
	for k, v := range entry.Data {
		if s, ok := v.(string); ok {
			entry.Data[k] = Redact(s)
		}
	}
	return nil
}

var _ logrus.Hook = (*Hook)(nil)
