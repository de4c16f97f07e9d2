package llm

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ternarybob/peto/internal/models"
)

// LoadProfile reads and validates the candidate profile YAML. The
// profile is loaded once at startup and shared by every scorer.
func LoadProfile(path string) (*models.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var profile models.Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}

	return &profile, nil
}
