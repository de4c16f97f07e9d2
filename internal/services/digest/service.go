package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/mailer"
)

const (
	// firstRunWindow bounds the very first digest. Without a recorded
	// last-sent time the whole match history would qualify.
	firstRunWindow = 24 * time.Hour

	// stopTimeout bounds the wait for an in-flight run on Stop.
	stopTimeout = 30 * time.Second
)

// mailSender is the slice of the mailer the digest needs. *mailer.Service
// satisfies it.
type mailSender interface {
	IsConfigured() bool
	DefaultRecipient() string
	SendWithAttachments(to, subject, htmlBody, textBody string, attachments []mailer.Attachment) error
}

// Service mails periodic summaries of newly scored matches. Each run
// covers matches scored since the previous send, filtered to the
// configured priority floor, and records the send time as a config doc so
// restarts never re-mail a window.
type Service struct {
	cfg     *common.DigestConfig
	matches interfaces.MatchStorage
	docs    interfaces.ConfigDocStorage
	mailer  mailSender
	pdf     interfaces.PDFService
	logger  arbor.ILogger

	cron  *cron.Cron
	runMu sync.Mutex // one run at a time

	mu      sync.Mutex
	running bool
}

// NewService creates the digest scheduler. pdfService may be nil; PDF
// attachment is then skipped regardless of configuration.
func NewService(cfg *common.DigestConfig, matches interfaces.MatchStorage, docs interfaces.ConfigDocStorage, mailService *mailer.Service, pdfService interfaces.PDFService, logger arbor.ILogger) interfaces.DigestService {
	return &Service{
		cfg:     cfg,
		matches: matches,
		docs:    docs,
		mailer:  mailService,
		pdf:     pdfService,
		logger:  logger,
		cron:    cron.New(cron.WithSeconds()),
	}
}

// Start registers the digest schedule and begins ticking. A disabled
// digest starts as a no-op so callers never need to special-case it.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.logger.Info().Msg("Digest disabled")
		return nil
	}
	if !s.mailer.IsConfigured() {
		s.logger.Warn().Msg("Digest enabled but SMTP is not configured, digest will not run")
		return nil
	}
	if s.cfg.Schedule == "" {
		return fmt.Errorf("digest schedule is required")
	}
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.tick); err != nil {
		return fmt.Errorf("failed to register digest schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Str("min_priority", s.cfg.MinPriority).
		Bool("attach_pdf", s.cfg.AttachPDF).
		Msg("Digest scheduler started")
	return nil
}

// Stop halts the schedule and waits for an in-flight run.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn().Msg("Digest did not finish within shutdown window")
	}

	s.logger.Info().Msg("Digest scheduler stopped")
	return nil
}

// tick runs one scheduled digest. Failures are logged, never propagated;
// a missed digest must not disturb the pipeline.
func (s *Service) tick() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Digest run failed")
	}
}

// RunOnce builds and sends a digest immediately. The last-sent marker
// only advances after a successful send, so a failed delivery is retried
// with the same window on the next schedule.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.cfg.Enabled {
		return 0, nil
	}
	if !s.mailer.IsConfigured() {
		s.logger.Warn().Msg("Digest skipped, SMTP is not configured")
		return 0, nil
	}

	state, err := s.loadState(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	since := state.LastSentAt
	if since.IsZero() {
		since = now.Add(-firstRunWindow)
	}

	matches, err := s.collect(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		s.logger.Debug().
			Str("since", since.Format(time.RFC3339)).
			Msg("No new matches for digest")
		return 0, nil
	}

	markdown := buildMarkdown(matches, since, now)
	htmlBody := s.renderHTML(markdown)

	var attachments []mailer.Attachment
	if s.cfg.AttachPDF && s.pdf != nil {
		report, err := s.pdf.BuildMatchReport("Peto Match Digest", now, matches)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Digest PDF failed, sending without attachment")
		} else {
			attachments = append(attachments, mailer.Attachment{
				Filename:    fmt.Sprintf("peto-digest-%s.pdf", now.Format("2006-01-02")),
				ContentType: "application/pdf",
				Content:     report,
			})
		}
	}

	to := s.mailer.DefaultRecipient()
	subject := fmt.Sprintf("Peto match digest: %d new", len(matches))
	if err := s.mailer.SendWithAttachments(to, subject, htmlBody, markdown, attachments); err != nil {
		return 0, fmt.Errorf("failed to send digest: %w", err)
	}

	state.LastSentAt = now
	if err := s.saveState(ctx, state); err != nil {
		// Already sent; a stale marker at worst repeats matches next run
		s.logger.Error().Err(err).Msg("Failed to persist digest state")
	}

	s.logger.Info().
		Int("matches", len(matches)).
		Str("to", to).
		Bool("pdf_attached", len(attachments) > 0).
		Msg("Digest sent")
	return len(matches), nil
}

// collect lists matches scored in the window and applies the priority
// floor. HIGH admits only HIGH, MEDIUM admits HIGH and MEDIUM, anything
// else admits all.
func (s *Service) collect(ctx context.Context, since time.Time) ([]*models.JobMatch, error) {
	list, err := s.matches.List(ctx, &interfaces.MatchListOptions{
		Since:       &since,
		SortByScore: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for digest: %w", err)
	}

	floor := priorityFloor(s.cfg.MinPriority)
	out := make([]*models.JobMatch, 0, len(list))
	for _, m := range list {
		if m.Priority.Rank() <= floor {
			out = append(out, m)
		}
	}
	return out, nil
}

// priorityFloor maps the configured minimum priority to its rank. Unknown
// or empty values admit every priority.
func priorityFloor(min string) int {
	switch models.MatchPriority(strings.ToUpper(strings.TrimSpace(min))) {
	case models.PriorityHigh:
		return models.PriorityHigh.Rank()
	case models.PriorityMedium:
		return models.PriorityMedium.Rank()
	}
	return models.PriorityLow.Rank()
}

func (s *Service) loadState(ctx context.Context) (*models.DigestState, error) {
	state := &models.DigestState{}
	doc, err := s.docs.GetDoc(ctx, models.ConfigDocDigestState)
	switch {
	case models.IsNotFound(err):
		// First run
	case err != nil:
		return nil, fmt.Errorf("failed to load digest state: %w", err)
	default:
		if err := json.Unmarshal(doc.Data, state); err != nil {
			s.logger.Warn().Err(err).Msg("Malformed digest state, treating as first run")
			state = &models.DigestState{}
		}
	}
	return state, nil
}

func (s *Service) saveState(ctx context.Context, state *models.DigestState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal digest state: %w", err)
	}
	return s.docs.PutDoc(ctx, &models.ConfigDoc{
		ID:   models.ConfigDocDigestState,
		Data: data,
	})
}

// buildMarkdown renders the digest body: a summary line, a match table
// and a details section for the high priority entries. The same text
// doubles as the plain part of the email.
func buildMarkdown(matches []*models.JobMatch, since, now time.Time) string {
	var b strings.Builder

	b.WriteString("# Peto Match Digest\n\n")
	fmt.Fprintf(&b, "%d new matches between %s and %s.\n\n",
		len(matches),
		since.UTC().Format("Mon, 02 Jan 15:04 UTC"),
		now.UTC().Format("Mon, 02 Jan 15:04 UTC"))

	b.WriteString("| Score | Priority | Role | Company |\n")
	b.WriteString("|-------|----------|------|---------|\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "| %d | %s | [%s](%s) | %s |\n",
			m.Score, m.Priority, tableCell(m.Title), m.URL, tableCell(m.Company.Name))
	}
	b.WriteString("\n")

	wroteHeading := false
	for _, m := range matches {
		if m.Priority != models.PriorityHigh {
			continue
		}
		if !wroteHeading {
			b.WriteString("## High Priority\n\n")
			wroteHeading = true
		}
		fmt.Fprintf(&b, "### %s at %s (score %d)\n\n", m.Title, m.Company.Name, m.Score)
		fmt.Fprintf(&b, "%s\n\n", m.URL)
		if len(m.MatchedSkills) > 0 {
			fmt.Fprintf(&b, "**Matched:** %s\n\n", strings.Join(m.MatchedSkills, ", "))
		}
		if m.Reasoning != "" {
			fmt.Fprintf(&b, "%s\n\n", m.Reasoning)
		}
	}

	return b.String()
}

// tableCell escapes pipes so titles cannot break the GFM table.
func tableCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// renderHTML converts the digest markdown into the styled email template.
func (s *Service) renderHTML(markdown string) string {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		s.logger.Error().Err(err).Msg("Failed to convert digest markdown to HTML")
		return wrapInEmailTemplate("<pre>" + escapeHTML(markdown) + "</pre>")
	}
	return wrapInEmailTemplate(buf.String())
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// wrapInEmailTemplate wraps HTML content in a styled email template
func wrapInEmailTemplate(content string) string {
	return `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
      line-height: 1.6;
      color: #333;
      max-width: 800px;
      margin: 0 auto;
      padding: 20px;
      background-color: #f9f9f9;
    }
    .content {
      background-color: #fff;
      padding: 30px;
      border-radius: 8px;
      box-shadow: 0 1px 3px rgba(0,0,0,0.1);
    }
    h1 { color: #1a1a1a; font-size: 24px; margin-top: 0; border-bottom: 2px solid #eee; padding-bottom: 10px; }
    h2 { color: #2a2a2a; font-size: 20px; margin-top: 24px; }
    h3 { color: #3a3a3a; font-size: 16px; margin-top: 20px; }
    p { margin: 12px 0; }
    ul, ol { padding-left: 24px; margin: 12px 0; }
    li { margin: 6px 0; }
    strong { color: #1a1a1a; }
    table { border-collapse: collapse; width: 100%; margin: 16px 0; }
    th, td { border: 1px solid #ddd; padding: 8px 12px; text-align: left; }
    th { background: #f4f4f4; font-weight: 600; }
    hr { border: none; border-top: 1px solid #eee; margin: 24px 0; }
    a { color: #0066cc; text-decoration: none; }
    a:hover { text-decoration: underline; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #888; }
  </style>
</head>
<body>
  <div class="content">
    ` + content + `
  </div>
  <div class="footer">
    <p>This email was automatically generated by Peto.</p>
  </div>
</body>
</html>`
}
