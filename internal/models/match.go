package models

import "time"

// MatchPriority buckets a scored match for downstream consumers
type MatchPriority string

const (
	PriorityHigh   MatchPriority = "HIGH"
	PriorityMedium MatchPriority = "MEDIUM"
	PriorityLow    MatchPriority = "LOW"
)

// Rank orders priorities, HIGH first
func (p MatchPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 2
	}
	return 3
}

// ScoreResult is what the LLM scorer returns for one posting
type ScoreResult struct {
	Score         int           `json:"score"`
	Priority      MatchPriority `json:"priority"`
	MatchedSkills []string      `json:"matched_skills"`
	MissingSkills []string      `json:"missing_skills"`
	Keywords      []string      `json:"keywords"`
	Reasoning     string        `json:"reasoning"`
}

// CompanySnapshot is the subset of company data frozen onto a match at
// scoring time.
type CompanySnapshot struct {
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Website      string      `json:"website,omitempty"`
	Size         CompanySize `json:"size"`
	Tier         Tier        `json:"tier"`
	Headquarters string      `json:"headquarters,omitempty"`
}

// JobMatch is the persisted output of a successful pipeline run, keyed by
// the canonical URL hash. At most one match exists per hash; conflicts
// resolve higher-score-wins with the newer ScoredAt winning ties.
type JobMatch struct {
	URLHash       string          `json:"url_hash" badgerhold:"key"`
	URL           string          `json:"url"`
	Title         string          `json:"title"`
	Company       CompanySnapshot `json:"company"`
	Score         int             `json:"score"`
	Priority      MatchPriority   `json:"priority"`
	MatchedSkills []string        `json:"matched_skills,omitempty"`
	MissingSkills []string        `json:"missing_skills,omitempty"`
	Keywords      []string        `json:"keywords,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
	Source        ItemSource      `json:"source"`
	SubmittedBy   string          `json:"submitted_by,omitempty"`
	QueueItemID   string          `json:"queue_item_id"`
	ScoredAt      time.Time       `json:"scored_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Supersedes reports whether m should replace existing under the
// higher-score-wins policy.
func (m *JobMatch) Supersedes(existing *JobMatch) bool {
	if existing == nil {
		return true
	}
	if m.Score != existing.Score {
		return m.Score > existing.Score
	}
	return m.ScoredAt.After(existing.ScoredAt)
}
