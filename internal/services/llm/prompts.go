package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/peto/internal/models"
)

// scoreSystemPrompt frames the scoring task. The response contract is
// strict JSON so parseScoreResult can stay dumb.
const scoreSystemPrompt = `You are a job-match analyst. You compare one job posting against one candidate profile and return a match assessment as strict JSON. Respond with a single JSON object and nothing else - no markdown fences, no commentary.`

// analyzeSystemPrompt frames the company-analysis task
const analyzeSystemPrompt = `You are a company researcher. You read scraped website content and extract factual company information as strict JSON. Respond with a single JSON object and nothing else - no markdown fences, no commentary. Use empty strings for fields the content does not support; never invent facts.`

// buildScorePrompt renders the posting, optional company context and the
// candidate profile into the user message for ScoreJob.
func buildScorePrompt(posting *models.JobPosting, company *models.Company, profile *models.Profile) string {
	var b strings.Builder

	b.WriteString("## Candidate Profile\n")
	fmt.Fprintf(&b, "Name: %s\n", profile.Name)
	if profile.Title != "" {
		fmt.Fprintf(&b, "Current title: %s\n", profile.Title)
	}
	if profile.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", profile.Summary)
	}
	fmt.Fprintf(&b, "Skills: %s\n", strings.Join(profile.Skills, ", "))
	if profile.YearsExperience > 0 {
		fmt.Fprintf(&b, "Years of experience: %d\n", profile.YearsExperience)
	}
	if len(profile.Locations) > 0 {
		fmt.Fprintf(&b, "Acceptable locations: %s\n", strings.Join(profile.Locations, ", "))
	}
	if profile.RemoteOnly {
		b.WriteString("Remote only: yes\n")
	}
	if profile.MinSalary > 0 {
		fmt.Fprintf(&b, "Minimum salary: %d\n", profile.MinSalary)
	}
	if len(profile.FavorKeywords) > 0 {
		fmt.Fprintf(&b, "Favor: %s\n", strings.Join(profile.FavorKeywords, ", "))
	}
	if len(profile.AvoidKeywords) > 0 {
		fmt.Fprintf(&b, "Avoid: %s\n", strings.Join(profile.AvoidKeywords, ", "))
	}

	b.WriteString("\n## Job Posting\n")
	fmt.Fprintf(&b, "Title: %s\n", posting.Title)
	if posting.CompanyName != "" {
		fmt.Fprintf(&b, "Company: %s\n", posting.CompanyName)
	}
	if posting.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", posting.Location)
	}
	fmt.Fprintf(&b, "URL: %s\n", posting.URL)
	b.WriteString("Description:\n")
	b.WriteString(truncate(posting.Description, maxDescriptionChars))
	b.WriteString("\n")

	if company != nil {
		b.WriteString("\n## Company Context\n")
		fmt.Fprintf(&b, "Name: %s\n", company.Name)
		if company.Size != "" && company.Size != models.SizeUnknown {
			fmt.Fprintf(&b, "Size: %s\n", company.Size)
		}
		if company.About != "" {
			fmt.Fprintf(&b, "About: %s\n", truncate(company.About, maxContextChars))
		}
		if company.Culture != "" {
			fmt.Fprintf(&b, "Culture: %s\n", truncate(company.Culture, maxContextChars))
		}
	}

	b.WriteString(`
## Response Format
{
  "score": <integer 0-100, overall match strength>,
  "priority": "<HIGH|MEDIUM|LOW>",
  "matched_skills": ["<profile skills the posting needs>"],
  "missing_skills": ["<posting requirements the profile lacks>"],
  "keywords": ["<notable terms from the posting>"],
  "reasoning": "<two or three sentences>"
}`)

	return b.String()
}

// buildAnalyzePrompt renders scraped page content into the user message
// for AnalyzeCompany.
func buildAnalyzePrompt(company *models.Company, content string) string {
	var b strings.Builder

	b.WriteString("## Company\n")
	fmt.Fprintf(&b, "Name: %s\n", company.Name)
	if company.Website != "" {
		fmt.Fprintf(&b, "Website: %s\n", company.Website)
	}

	b.WriteString("\n## Scraped Content\n")
	b.WriteString(truncate(content, maxAnalysisChars))

	b.WriteString(`

## Response Format
{
  "about": "<one paragraph, what the company does>",
  "mission": "<stated mission, or empty>",
  "culture": "<culture and values signals, or empty>",
  "size": "<LARGE|MEDIUM|SMALL|UNKNOWN>",
  "headquarters": "<city and country, or empty>"
}`)

	return b.String()
}

// Prompt budgets. Postings and about pages can run long; the tail adds
// tokens without adding signal.
const (
	maxDescriptionChars = 12_000
	maxContextChars     = 1_500
	maxAnalysisChars    = 20_000
)

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}

// parseScoreResult decodes a provider response into a ScoreResult. The
// providers occasionally wrap JSON in markdown fences despite the system
// prompt; stripFences tolerates that. A response that still fails to
// decode is an LLM_FAILED classification - retrying may produce valid
// output.
func parseScoreResult(raw string) (*models.ScoreResult, error) {
	cleaned := stripFences(raw)

	var result models.ScoreResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, models.NewKindError(models.ErrKindLLMFailed, "scorer returned unparseable response", err)
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}
	result.Priority = normalizePriority(result.Priority, result.Score)

	return &result, nil
}

// parseCompanyFacts decodes a provider response into CompanyFacts
func parseCompanyFacts(raw string) (*models.CompanyFacts, error) {
	cleaned := stripFences(raw)

	var facts models.CompanyFacts
	if err := json.Unmarshal([]byte(cleaned), &facts); err != nil {
		return nil, models.NewKindError(models.ErrKindLLMFailed, "analyzer returned unparseable response", err)
	}

	facts.Size = normalizeSize(facts.Size)

	return &facts, nil
}

// stripFences removes a markdown code fence around a JSON body, plus any
// prose before the first brace. Returns the input unchanged when no brace
// is present so json.Unmarshal reports the real problem.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// normalizePriority maps loose provider output onto the closed priority
// set, deriving from the score when the field is missing or invalid.
func normalizePriority(p models.MatchPriority, score int) models.MatchPriority {
	switch models.MatchPriority(strings.ToUpper(string(p))) {
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityMedium:
		return models.PriorityMedium
	case models.PriorityLow:
		return models.PriorityLow
	}
	return PriorityForScore(score)
}

// PriorityForScore maps a 0-100 score onto the priority buckets
func PriorityForScore(score int) models.MatchPriority {
	switch {
	case score >= 80:
		return models.PriorityHigh
	case score >= 60:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

// normalizeSize maps loose size strings onto the CompanySize enum. Models
// sometimes answer with "STARTUP" or "ENTERPRISE" despite the prompt; fold
// those into the nearest bucket rather than losing the signal.
func normalizeSize(s models.CompanySize) models.CompanySize {
	switch models.CompanySize(strings.ToUpper(strings.TrimSpace(string(s)))) {
	case "STARTUP", models.SizeSmall:
		return models.SizeSmall
	case models.SizeMedium:
		return models.SizeMedium
	case "ENTERPRISE", models.SizeLarge:
		return models.SizeLarge
	}
	return models.SizeUnknown
}
