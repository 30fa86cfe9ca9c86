package audit

import (
	"encoding/json"
	"time"
)

// BlockReason enumerates why a request was denied admission. The zero value
// means the request was not blocked.
type BlockReason string

const (
	BlockReasonNone                    BlockReason = ""
	BlockReasonRateLimit               BlockReason = "rate-limit"
	BlockReasonContentPolicyViolation  BlockReason = "content-policy-violation"
)

// Entry is one append-only audit row. No field may carry a raw identifier;
// caller/user-agent/key fields are digests produced by pkg/digest.
type Entry struct {
	ID                  int64           `json:"id"`
	RequestID           string          `json:"request_id"`
	Timestamp           time.Time       `json:"timestamp"`
	Method              string          `json:"method"`
	Path                string          `json:"path"`
	CallerFingerprint   string          `json:"caller_fingerprint"`
	UserAgentFingerprint string         `json:"user_agent_fingerprint"`
	KeyFingerprint      string          `json:"key_fingerprint,omitempty"`
	RequestBytes        int64           `json:"request_bytes"`
	ResponseStatus      int             `json:"response_status"`
	ResponseBytes       int64           `json:"response_bytes"`
	LatencyMillis       int64           `json:"latency_ms"`
	IsBlocked           bool            `json:"is_blocked"`
	BlockReason         BlockReason     `json:"block_reason,omitempty"`
	DetectedIssuesCount int             `json:"detected_issues_count"`
	SecurityConfidence  *float64        `json:"security_confidence,omitempty"`
	LLMProvider         string          `json:"llm_provider,omitempty"`
	LLMModel            string          `json:"llm_model,omitempty"`
	Metadata            json.RawMessage `json:"metadata,omitempty"`
	RetentionUntil      time.Time       `json:"retention_until"`
}

// Patch accumulates the fields the admission pipeline fills in as a request
// progresses. It is owned exclusively by the request context and read only
// after the response has been flushed.
type Patch struct {
	IsBlocked           bool
	BlockReason         BlockReason
	DetectedIssuesCount int
	SecurityConfidence  *float64
	LLMProvider         string
	LLMModel            string
	Metadata            map[string]string
}
