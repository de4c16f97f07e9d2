package models

import (
	"net/url"
	"strings"
	"time"
)

// CompanySize buckets a company by headcount
type CompanySize string

const (
	SizeLarge   CompanySize = "LARGE"
	SizeMedium  CompanySize = "MEDIUM"
	SizeSmall   CompanySize = "SMALL"
	SizeUnknown CompanySize = "UNKNOWN"
)

// Tier is the coarse quality bucket used as an ordering input for
// rotation and prioritisation. S ranks highest.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

// Rank maps a tier onto an ordering integer, S lowest (best). Unknown
// tiers rank after D so malformed rows sort last rather than first.
func (t Tier) Rank() int {
	switch t {
	case TierS:
		return 0
	case TierA:
		return 1
	case TierB:
		return 2
	case TierC:
		return 3
	case TierD:
		return 4
	}
	return 5
}

// AnalysisStatus tracks company enrichment progress
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "PENDING"
	AnalysisAnalyzing AnalysisStatus = "ANALYZING"
	AnalysisComplete  AnalysisStatus = "COMPLETE"
	AnalysisFailed    AnalysisStatus = "FAILED"
)

// Company is one row in the companies collection, keyed by Slug.
// The pipeline is the single writer; updates use a field-level merge that
// never overwrites a non-empty field with an empty one.
type Company struct {
	Slug           string         `json:"slug" badgerhold:"key"`
	Name           string         `json:"name"`
	Website        string         `json:"website,omitempty"`
	About          string         `json:"about,omitempty"`
	Mission        string         `json:"mission,omitempty"`
	Culture        string         `json:"culture,omitempty"`
	Size           CompanySize    `json:"size"`
	Headquarters   string         `json:"headquarters,omitempty"`
	Tier           Tier           `json:"tier"`
	PriorityScore  float64        `json:"priority_score"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	AnalyzedAt     *time.Time     `json:"analyzed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CompanyFacts is what the enrichment adapter returns for a company
type CompanyFacts struct {
	About        string      `json:"about,omitempty"`
	Mission      string      `json:"mission,omitempty"`
	Culture      string      `json:"culture,omitempty"`
	Size         CompanySize `json:"size"`
	Headquarters string      `json:"headquarters,omitempty"`
}

// CompanySlug derives the companies-collection key from a display name and
// website. The host part keeps distinct companies with the same trading
// name apart.
func CompanySlug(name, website string) string {
	nameSlug := slugify(name)
	host := normalizedHost(website)

	switch {
	case nameSlug != "" && host != "":
		return nameSlug + "-" + host
	case nameSlug != "":
		return nameSlug
	default:
		return host
	}
}

// Merge applies non-empty fields from other onto c, returning true when
// anything changed. Empty incoming values never clobber existing data.
func (c *Company) Merge(other *Company) bool {
	changed := false
	if other.Name != "" && other.Name != c.Name {
		c.Name = other.Name
		changed = true
	}
	if other.Website != "" && other.Website != c.Website {
		c.Website = other.Website
		changed = true
	}
	if other.About != "" && other.About != c.About {
		c.About = other.About
		changed = true
	}
	if other.Mission != "" && other.Mission != c.Mission {
		c.Mission = other.Mission
		changed = true
	}
	if other.Culture != "" && other.Culture != c.Culture {
		c.Culture = other.Culture
		changed = true
	}
	if other.Size != "" && other.Size != SizeUnknown && other.Size != c.Size {
		c.Size = other.Size
		changed = true
	}
	if other.Headquarters != "" && other.Headquarters != c.Headquarters {
		c.Headquarters = other.Headquarters
		changed = true
	}
	if other.Tier != "" && other.Tier != c.Tier {
		c.Tier = other.Tier
		changed = true
	}
	if other.PriorityScore != 0 && other.PriorityScore != c.PriorityScore {
		c.PriorityScore = other.PriorityScore
		changed = true
	}
	if other.AnalysisStatus != "" && other.AnalysisStatus != c.AnalysisStatus {
		c.AnalysisStatus = other.AnalysisStatus
		changed = true
	}
	if other.AnalyzedAt != nil {
		c.AnalyzedAt = other.AnalyzedAt
		changed = true
	}
	return changed
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func normalizedHost(website string) string {
	if website == "" {
		return ""
	}
	raw := website
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}
