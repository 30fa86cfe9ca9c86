package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sentrygate/gateway/pkg/analyzer"
	"github.com/sentrygate/gateway/pkg/audit"
	"github.com/sentrygate/gateway/pkg/ratelimit"
	"github.com/sentrygate/gateway/pkg/stream"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// handleChatCompletions is the admission pipeline's single entry point:
// rate limit, validate, analyze, and (once implemented) forward upstream.
// Once past the shutdown check, every branch ends in finish, which enqueues
// exactly one audit entry when audit logging is enabled.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if !s.InFlight.Begin() {
		writeError(w, r, http.StatusServiceUnavailable, ErrorTypeServiceUnavailable, "gateway is shutting down")
		return
	}
	defer s.InFlight.End()

	rc := newRequestContext(r, s.Digest)
	ctx := withRequestID(r.Context(), rc.RequestID)
	w.Header().Set("X-Request-Id", rc.RequestID)

	finish := func(status int, responseBytes int64) {
		entry := rc.buildAuditEntry(r.Method, r.URL.Path, status, responseBytes, time.Now().UTC().AddDate(0, 0, s.Config.AuditRetentionDays))
		if s.Config.FeatureAuditLogging {
			if err := s.AuditQueue.Enqueue(context.Background(), entry); err != nil {
				// audit persistence failure never blocks the response
				_ = err
			}
		}
		if rc.Patch.IsBlocked {
			s.Metrics.IncVerdict("blocked")
			s.Metrics.IncReason(string(rc.Patch.BlockReason))
			s.Prom.blockedTotal.WithLabelValues(string(rc.Patch.BlockReason), r.URL.Path).Inc()
		} else {
			s.Metrics.IncVerdict("allowed")
		}
	}

	body, ok := readRequestBody(w, r)
	if !ok {
		finish(http.StatusBadRequest, 0)
		return
	}
	rc.RequestBytes = int64(len(body))

	if s.Config.FeatureRateLimiting {
		decision := s.Limiter.Check(ctx, rc.CallerFingerprint, rc.KeyFingerprint)
		writeRateLimitHeaders(w, decision)
		if !decision.Allowed {
			rc.Patch.IsBlocked = true
			rc.Patch.BlockReason = audit.BlockReasonRateLimit
			s.Prom.rateLimitViolations.WithLabelValues(decision.Tier).Inc()
			s.Events.Publish(stream.NewEvent("rate_limited", map[string]any{
				"request_id": rc.RequestID,
				"tier":       decision.Tier,
			}))
			resp := writeJSONError(w, http.StatusTooManyRequests, ErrorTypeRateLimitExceeded, "rate limit exceeded", rc.RequestID, nil)
			finish(http.StatusTooManyRequests, resp)
			return
		}
	}

	var req chatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		resp := writeJSONError(w, http.StatusBadRequest, ErrorTypeValidation, "malformed request body", rc.RequestID, nil)
		finish(http.StatusBadRequest, resp)
		return
	}
	rc.Patch.LLMProvider = inferProvider(req.Model)
	rc.Patch.LLMModel = req.Model

	content, verr := validateAndJoinContent(req, s.Config.MinContentLength, s.Config.MaxContentLength)
	if verr != "" {
		resp := writeJSONError(w, http.StatusBadRequest, ErrorTypeValidation, verr, rc.RequestID, nil)
		finish(http.StatusBadRequest, resp)
		return
	}

	verdict, err := s.Analyzer.CheckContent(ctx, analyzer.CheckContentRequest{
		Content:   content,
		RequestID: rc.RequestID,
		Metadata: map[string]string{
			// identity fields are digests, never the raw values
			"client_ip":                rc.CallerFingerprint,
			"user_agent":               rc.UserAgentFingerprint,
			"model":                    req.Model,
			"pii_confidence_threshold": strconv.FormatFloat(s.Config.PIIConfidenceMin, 'f', -1, 64),
		},
	})
	analysisElapsed := time.Since(rc.StartedAt)
	s.Metrics.ObserveAnalysisLatency(analysisElapsed)
	if err != nil {
		resp := writeJSONError(w, http.StatusServiceUnavailable, ErrorTypeServiceUnavailable, "content analysis unavailable", rc.RequestID, nil)
		finish(http.StatusServiceUnavailable, resp)
		return
	}

	rc.Patch.DetectedIssuesCount = len(verdict.DetectedIssues)
	confidence := verdict.ConfidenceScore
	rc.Patch.SecurityConfidence = &confidence
	recordDetectedIssues(s, verdict.DetectedIssues)

	if !verdict.IsSafe {
		rc.Patch.IsBlocked = true
		rc.Patch.BlockReason = audit.BlockReasonContentPolicyViolation
		s.Events.Publish(stream.NewEvent("blocked", map[string]any{
			"request_id": rc.RequestID,
			"reason":     string(rc.Patch.BlockReason),
			"issues":     len(verdict.DetectedIssues),
		}))
		resp := writeJSONError(w, http.StatusForbidden, ErrorTypeContentPolicy, "content policy violation", rc.RequestID, contentPolicyDetails(verdict))
		finish(http.StatusForbidden, resp)
		return
	}

	// Admission granted. Forwarding to an upstream LLM provider is outside
	// this build's scope; the gateway reports that explicitly rather than
	// silently dropping the request.
	resp := writeJSONError(w, http.StatusNotImplemented, ErrorTypeNotImplemented, "upstream forwarding is not implemented", rc.RequestID, nil)
	finish(http.StatusNotImplemented, resp)
}

// blockDetails is the 403 body: the issues list plus a preview of the
// analyzed content truncated to 100 characters.
type blockDetails struct {
	DetectedIssues  []analyzer.DetectedIssue `json:"detected_issues"`
	RedactedPreview string                   `json:"redacted_preview"`
}

func contentPolicyDetails(verdict analyzer.CheckContentResponse) blockDetails {
	preview := verdict.RedactedText
	if len(preview) > 100 {
		preview = preview[:100]
	}
	return blockDetails{DetectedIssues: verdict.DetectedIssues, RedactedPreview: preview}
}

func writeRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.FailedOpen {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
	}
}

func writeJSONError(w http.ResponseWriter, status int, errType ErrorType, message, requestID string, details interface{}) int64 {
	body := errorBody{Error: errorDetail{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := json.Marshal(body)
	n, _ := w.Write(b)
	return int64(n)
}

// validateAndJoinContent checks the message schema and length bounds, then
// returns the user-role messages joined with newlines: that is the string
// the analyzer sees, system/assistant turns are not re-analyzed.
func validateAndJoinContent(req chatCompletionRequest, minLen, maxLen int) (string, string) {
	if len(req.Messages) == 0 {
		return "", "messages must not be empty"
	}
	total := 0
	var b strings.Builder
	for _, m := range req.Messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return "", "message role must be one of system, user, assistant"
		}
		total += len(m.Content)
		if m.Role == "user" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.Content)
		}
	}
	if total < minLen {
		return "", "content shorter than the configured minimum length"
	}
	if maxLen > 0 && total > maxLen {
		return "", "content exceeds the configured maximum length"
	}
	return b.String(), ""
}

func inferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"):
		return "openai"
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}

var piiIssueKinds = map[analyzer.IssueKind]bool{
	analyzer.IssueAPIKey:     true,
	analyzer.IssueEmail:      true,
	analyzer.IssuePhone:      true,
	analyzer.IssueSSN:        true,
	analyzer.IssueCreditCard: true,
	analyzer.IssueIPAddress:  true,
	analyzer.IssuePerson:     true,
	analyzer.IssueLocation:   true,
	analyzer.IssuePassword:   true,
}

func recordDetectedIssues(s *Server, issues []analyzer.DetectedIssue) {
	for _, issue := range issues {
		if piiIssueKinds[issue.Kind] {
			s.Prom.piiDetectionsTotal.WithLabelValues(string(issue.Kind)).Inc()
		}
		if issue.Kind == analyzer.IssuePromptInjection || issue.Kind == analyzer.IssueJailbreak {
			s.Prom.promptInjectionsTotal.WithLabelValues(string(issue.Kind)).Inc()
		}
	}
}
