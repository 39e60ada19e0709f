package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/cyberbrain/orchestrator/internal/orcherr"
	"gorm.io/gorm"
)

// LLMCall is a per-invocation token ledger. The schema itself carries no
// prompt/response columns — that half of the §4.J invariant is structural;
// the other half (rejecting ad hoc extra fields smuggled in via a map) is
// enforced by this type's BeforeSave hook below.
type LLMCall struct {
	LLMCallID        string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"llm_call_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now());index:idx_llmcall_lookup" json:"created_at"`
	RunID            string    `gorm:"type:uuid;not null;index:idx_llmcall_lookup" json:"run_id"`
	EndpointID       string    `gorm:"type:text;not null;index:idx_llmcall_lookup" json:"endpoint_id"`
	ModelID          string    `gorm:"type:text;not null;index:idx_llmcall_lookup" json:"model_id"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	DurationMS       int64     `json:"duration_ms"`
	Success          bool      `json:"success"`

	// Extra carries only structural metadata the worker chooses to record
	// (e.g. finish_reason). BeforeSave rejects it if it contains a forbidden
	// field name, so it must never be used to smuggle prompt/response text.
	Extra JSONB `gorm:"type:jsonb" json:"extra"`
}

func (LLMCall) TableName() string { return "llm_calls" }

// ForbiddenFields is the closed set of field names (case-insensitive) that
// must never appear as a key of Extra.
var ForbiddenFields = []string{
	"prompt", "response", "prompt_content", "response_content",
	"messages", "completion_text",
}

// BeforeSave is GORM's pre-persist hook; it is the guardrail of §4.J,
// applied to every write of an LLMCall-shaped record rather than left as
// ambient framework magic elsewhere. Any forbidden key under Extra aborts
// the transaction with a GuardrailViolation-tagged error.
func (c *LLMCall) BeforeSave(tx *gorm.DB) error {
	for key := range c.Extra {
		lower := strings.ToLower(key)
		for _, forbidden := range ForbiddenFields {
			if lower == forbidden {
				return orcherr.New(orcherr.KindGuardrailViolation, fmt.Sprintf("forbidden field %q on LLMCall", key))
			}
		}
	}
	return nil
}
