package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Keyword scorer weights. Skills dominate; favor/avoid keywords nudge
// the total and a remote mismatch is a hard penalty.
const (
	keywordSkillPoints = 70
	keywordFavorPoints = 5
	keywordFavorCap    = 20
	keywordAvoidPoints = 15
	keywordRemotePenal = 20
)

// KeywordScorer is the offline deterministic scorer. It needs no API
// key, spends nothing and always produces the same result for the same
// input, which makes it the test double and the fallback when no cloud
// provider is configured.
type KeywordScorer struct {
	profile *models.Profile
	logger  arbor.ILogger
}

// NewKeywordScorer creates the offline scorer
func NewKeywordScorer(profile *models.Profile, logger arbor.ILogger) interfaces.Scorer {
	return &KeywordScorer{
		profile: profile,
		logger:  logger,
	}
}

// Name identifies the provider
func (s *KeywordScorer) Name() string {
	return "keyword"
}

// ScoreJob matches profile skills and keywords against the posting text
func (s *KeywordScorer) ScoreJob(ctx context.Context, posting *models.JobPosting, company *models.Company) (*models.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewKindError(models.ErrKindLLMFailed, "keyword scoring cancelled", err)
	}

	text := strings.ToLower(posting.Title + "\n" + posting.Description)

	var matched, missing []string
	for _, skill := range s.profile.Skills {
		if containsTerm(text, skill) {
			matched = append(matched, skill)
		} else {
			missing = append(missing, skill)
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)

	score := 0
	if len(s.profile.Skills) > 0 {
		score = keywordSkillPoints * len(matched) / len(s.profile.Skills)
	}

	var keywords []string
	favor := 0
	for _, kw := range s.profile.FavorKeywords {
		if containsTerm(text, kw) {
			keywords = append(keywords, kw)
			favor += keywordFavorPoints
		}
	}
	if favor > keywordFavorCap {
		favor = keywordFavorCap
	}
	score += favor

	for _, kw := range s.profile.AvoidKeywords {
		if containsTerm(text, kw) {
			keywords = append(keywords, "-"+kw)
			score -= keywordAvoidPoints
		}
	}

	remoteMismatch := false
	if s.profile.RemoteOnly && !containsTerm(strings.ToLower(posting.Location+" "+posting.Description), "remote") {
		remoteMismatch = true
		score -= keywordRemotePenal
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reasoning := fmt.Sprintf("matched %d of %d profile skills", len(matched), len(s.profile.Skills))
	if remoteMismatch {
		reasoning += "; posting is not remote"
	}

	return &models.ScoreResult{
		Score:         score,
		Priority:      PriorityForScore(score),
		MatchedSkills: matched,
		MissingSkills: missing,
		Keywords:      keywords,
		Reasoning:     reasoning,
	}, nil
}

// AnalyzeCompany extracts what it can without a model: the first
// paragraph of the scraped content becomes the about text.
func (s *KeywordScorer) AnalyzeCompany(ctx context.Context, company *models.Company, content string) (*models.CompanyFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewKindError(models.ErrKindLLMFailed, "company analysis cancelled", err)
	}

	facts := &models.CompanyFacts{Size: models.SizeUnknown}
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || strings.HasPrefix(para, "#") {
			continue
		}
		facts.About = truncate(para, 400)
		break
	}
	return facts, nil
}

// HealthCheck always passes; there is no upstream to probe
func (s *KeywordScorer) HealthCheck(ctx context.Context) error {
	return nil
}

// Close releases nothing
func (s *KeywordScorer) Close() error {
	return nil
}

// containsTerm reports whether text contains term at word boundaries,
// case-insensitively. Plain substring matching would count "go" inside
// "google"; boundary checks keep short skill names usable.
func containsTerm(text, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}

	for start := 0; ; {
		idx := strings.Index(text[start:], term)
		if idx < 0 {
			return false
		}
		idx += start

		beforeOK := idx == 0 || isBoundary(text[idx-1])
		afterIdx := idx + len(term)
		afterOK := afterIdx >= len(text) || isBoundary(text[afterIdx])
		if beforeOK && afterOK {
			return true
		}

		start = idx + 1
		if start >= len(text) {
			return false
		}
	}
}

func isBoundary(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return false
	case b >= 'A' && b <= 'Z':
		return false
	case b >= '0' && b <= '9':
		return false
	}
	// '+' and '#' stay part of terms like "c++" and "c#"
	return b != '+' && b != '#'
}
