package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Fixed document ids in the job-finder-config collection
const (
	ConfigDocStopList      = "stop-list"
	ConfigDocQueueSettings = "queue-settings"
	ConfigDocAISettings    = "ai-settings"
	ConfigDocDigestState   = "digest-state"
)

// ConfigDoc is the raw storage form of a dynamic config document. Payloads
// stay as JSON so the loader can detect and log unknown fields instead of
// silently dropping them.
type ConfigDoc struct {
	ID        string          `json:"id" badgerhold:"key"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StopList holds the three exclusion sets applied before and after
// enrichment. Company and keyword entries match case-insensitively as
// substrings; host entries match as right-anchored suffixes.
type StopList struct {
	ExcludedCompanies []string `json:"excludedCompanies"`
	ExcludedKeywords  []string `json:"excludedKeywords"`
	ExcludedHosts     []string `json:"excludedHosts"`
}

// Stop-list match reasons, recorded on skipped items as
// "stop_listed:<reason>".
const (
	StopReasonCompany = "company"
	StopReasonKeyword = "keyword"
	StopReasonHost    = "host"
)

// Match checks a posting's company name, searchable text and URL host
// against the three exclusion sets, in that order. It returns the reason
// of the first set that matched.
func (s *StopList) Match(companyName, text, host string) (string, bool) {
	if s == nil {
		return "", false
	}
	if matchSubstring(s.ExcludedCompanies, companyName) {
		return StopReasonCompany, true
	}
	if matchSubstring(s.ExcludedKeywords, text) {
		return StopReasonKeyword, true
	}
	if matchHostSuffix(s.ExcludedHosts, host) {
		return StopReasonHost, true
	}
	return "", false
}

// matchSubstring reports whether any entry occurs in value,
// case-insensitively. Empty entries never match.
func matchSubstring(entries []string, value string) bool {
	if value == "" {
		return false
	}
	lower := strings.ToLower(value)
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.Contains(lower, e) {
			return true
		}
	}
	return false
}

// matchHostSuffix reports whether host equals an entry or is a subdomain
// of one. "example.com" matches "example.com" and "jobs.example.com" but
// not "notexample.com".
func matchHostSuffix(entries []string, host string) bool {
	if host == "" {
		return false
	}
	host = strings.ToLower(strings.TrimSpace(host))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if host == e || strings.HasSuffix(host, "."+e) {
			return true
		}
	}
	return false
}

// QueueSettings are the queue and worker tunables served by the
// queue-settings document.
type QueueSettings struct {
	MaxRetries               int `json:"max_retries" validate:"min=0,max=20"`
	RetryDelaySeconds        int `json:"retry_delay_seconds" validate:"min=0"`
	ProcessingTimeoutSeconds int `json:"processing_timeout_seconds" validate:"min=1"`
	BatchSize                int `json:"batch_size" validate:"min=1,max=100"`
	Parallelism              int `json:"parallelism" validate:"min=1,max=4"`
	PollIntervalSeconds      int `json:"poll_interval_seconds" validate:"min=1"`
	QueueHighWatermark       int `json:"queue_high_watermark" validate:"min=1"`
	RetentionDays            int `json:"retention_days" validate:"min=1"`
}

// DefaultQueueSettings returns the baseline used when the document is
// missing or invalid.
func DefaultQueueSettings() QueueSettings {
	return QueueSettings{
		MaxRetries:               DefaultMaxRetries,
		RetryDelaySeconds:        30,
		ProcessingTimeoutSeconds: 300,
		BatchSize:                10,
		Parallelism:              4,
		PollIntervalSeconds:      60,
		QueueHighWatermark:       500,
		RetentionDays:            30,
	}
}

// Lease returns the processing timeout as a duration; it doubles as the
// claim lease window.
func (q QueueSettings) Lease() time.Duration {
	return time.Duration(q.ProcessingTimeoutSeconds) * time.Second
}

// PollInterval returns the worker poll interval as a duration
func (q QueueSettings) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

// DigestState records when the last digest email went out so each run
// covers only matches scored since then.
type DigestState struct {
	LastSentAt time.Time `json:"last_sent_at"`
}

// AISettings are the scorer tunables served by the ai-settings document
type AISettings struct {
	Provider        string  `json:"provider" validate:"oneof=claude gemini keyword"`
	Model           string  `json:"model"`
	MinMatchScore   int     `json:"min_match_score" validate:"min=0,max=100"`
	DailyCostBudget float64 `json:"daily_cost_budget" validate:"min=0"`
}

// DefaultAISettings returns the baseline used when the document is missing
// or invalid.
func DefaultAISettings() AISettings {
	return AISettings{
		Provider:        "keyword",
		Model:           "",
		MinMatchScore:   60,
		DailyCostBudget: 5.0,
	}
}
