package models

import "fmt"

// Profile is the candidate profile the scorer matches postings against.
// Authored as YAML and loaded once at startup.
type Profile struct {
	Name            string   `yaml:"name" json:"name"`
	Title           string   `yaml:"title" json:"title"`
	Summary         string   `yaml:"summary" json:"summary"`
	Skills          []string `yaml:"skills" json:"skills"`
	YearsExperience int      `yaml:"years_experience" json:"years_experience"`
	Locations       []string `yaml:"locations" json:"locations"`
	RemoteOnly      bool     `yaml:"remote_only" json:"remote_only"`
	MinSalary       int      `yaml:"min_salary" json:"min_salary"`
	FavorKeywords   []string `yaml:"favor_keywords" json:"favor_keywords"`
	AvoidKeywords   []string `yaml:"avoid_keywords" json:"avoid_keywords"`
}

// Validate checks the profile carries enough signal to score against
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Skills) == 0 {
		return fmt.Errorf("profile must list at least one skill")
	}
	return nil
}
