package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/peto/internal/models"
)

// sourceFile is the on-disk shape of a source definitions file: one or
// more [[sources]] tables.
type sourceFile struct {
	Sources []sourceDef `toml:"sources"`
}

// sourceDef mirrors the configurable subset of models.Source. Runtime
// state (counters, history, health) never comes from files.
type sourceDef struct {
	SourceID    string `toml:"source_id"`
	CompanyID   string `toml:"company_id"`
	CompanyName string `toml:"company_name"`
	Kind        string `toml:"kind"`
	Enabled     *bool  `toml:"enabled"` // omitted means enabled
	Tier        string `toml:"tier"`
	BaseURL     string `toml:"base_url"`
	RenderJS    bool   `toml:"render_js"`
}

func (d sourceDef) toSource() *models.Source {
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return &models.Source{
		SourceID:    d.SourceID,
		CompanyID:   d.CompanyID,
		CompanyName: d.CompanyName,
		Kind:        models.SourceKind(d.Kind),
		Enabled:     enabled,
		Tier:        models.Tier(d.Tier),
		BaseURL:     d.BaseURL,
		RenderJS:    d.RenderJS,
	}
}

// LoadFromDir upserts source definitions from all .toml files in dir.
// A missing directory is not an error. Malformed files and invalid
// definitions are logged and skipped so one bad entry cannot hold up
// startup; EnsureSource keeps runtime state across re-loads.
func (s *Service) LoadFromDir(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		s.logger.Debug().Str("dir", dir).Msg("Source definitions directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read source definitions directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".toml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read source definitions file")
			continue
		}

		var file sourceFile
		if err := toml.Unmarshal(data, &file); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse source definitions file")
			continue
		}

		for _, def := range file.Sources {
			// A generated id would change every boot and duplicate the
			// source; file definitions must name their own.
			if def.SourceID == "" {
				s.logger.Warn().Str("file", entry.Name()).Str("base_url", def.BaseURL).Msg("Source definition missing source_id, skipping")
				continue
			}
			if err := s.EnsureSource(ctx, def.toSource()); err != nil {
				s.logger.Warn().Err(err).Str("file", entry.Name()).Str("source_id", def.SourceID).Msg("Failed to load source definition")
				continue
			}
			loaded++
		}
	}

	if loaded > 0 {
		s.logger.Info().Int("count", loaded).Str("dir", dir).Msg("Source definitions loaded")
	}
	return nil
}
