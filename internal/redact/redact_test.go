package redact

import (
	"testing"

	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"github.com/cyberbrain/orchestrator/internal/store/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactPatterns(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"api key", "api_key=sk-abc123", "[REDACTED_API_KEY]"},
		{"token", "token=eyJhbGciOi", "[REDACTED_TOKEN]"},
		{"password", "password=hunter2", "[REDACTED_PASSWORD]"},
		{"bearer auth", "Authorization: Bearer abc.def.ghi", "[REDACTED_AUTH]"},
		{"ip address", "connecting to 10.0.0.42 for probe", "[REDACTED_IP]"},
		{"no match passes through", "job finished with status success", "job finished with status success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.in)
			assert.Contains(t, got, tt.want)
		})
	}
}

func TestHookFireRedactsMessageAndFields(t *testing.T) {
	hook := NewHook(true)
	entry := &logrus.Entry{
		Message: "login failed password=hunter2",
		Data:    logrus.Fields{"remote_addr": "10.0.0.42", "attempt": 3},
	}

	require.NoError(t, hook.Fire(entry))
	assert.Contains(t, entry.Message, "[REDACTED_PASSWORD]")
	assert.Contains(t, entry.Data["remote_addr"], "[REDACTED_IP]")
	assert.Equal(t, 3, entry.Data["attempt"])
}

func TestHookFireNoopWhenDisabled(t *testing.T) {
	hook := NewHook(false)
	entry := &logrus.Entry{Message: "password=hunter2"}

	require.NoError(t, hook.Fire(entry))
	assert.Equal(t, "password=hunter2", entry.Message)
}

func TestHookLevelsCoversAll(t *testing.T) {
	assert.Equal(t, logrus.AllLevels, NewHook(true).Levels())
}

// TestLLMCallBeforeSaveRejectsForbiddenFields covers S5: a forbidden field
// smuggled into Extra must abort the save with a GuardrailViolation, the
// other half (alongside this package's pattern redaction) of §4.J's privacy
// guardrail.
func TestLLMCallBeforeSaveRejectsForbiddenFields(t *testing.T) {
	tests := []struct {
		name    string
		extra   models.JSONB
		wantErr bool
	}{
		{"prompt forbidden", models.JSONB{"prompt": "tell me a secret"}, true},
		{"response forbidden, case-insensitive", models.JSONB{"Response": "the secret"}, true},
		{"messages forbidden", models.JSONB{"messages": []string{"hi"}}, true},
		{"structural metadata allowed", models.JSONB{"finish_reason": "stop"}, false},
		{"empty extra allowed", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := &models.LLMCall{Extra: tt.extra}
			err := call.BeforeSave(nil)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			kind, ok := orcherr.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, orcherr.KindGuardrailViolation, kind)
		})
	}
}
