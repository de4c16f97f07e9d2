package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/mailer"
	"github.com/ternarybob/peto/internal/services/pdf"
	badgerstore "github.com/ternarybob/peto/internal/storage/badger"
)

// fakeSender captures digest mail instead of dialing SMTP
type fakeSender struct {
	configured bool
	sendErr    error

	sends       int
	to          string
	subject     string
	htmlBody    string
	textBody    string
	attachments []mailer.Attachment
}

func (f *fakeSender) IsConfigured() bool { return f.configured }

func (f *fakeSender) DefaultRecipient() string { return "digest@example.com" }

func (f *fakeSender) SendWithAttachments(to, subject, htmlBody, textBody string, attachments []mailer.Attachment) error {
	f.sends++
	f.to = to
	f.subject = subject
	f.htmlBody = htmlBody
	f.textBody = textBody
	f.attachments = attachments
	return f.sendErr
}

func newTestService(t *testing.T, cfg common.DigestConfig, sender *fakeSender) (*Service, interfaces.StorageManager) {
	t.Helper()

	logger := arbor.NewLogger()
	store, err := badgerstore.NewManager(logger, &common.StorageConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := NewService(&cfg, store.MatchStorage(), store.ConfigDocStorage(), nil, pdf.NewService(logger), logger).(*Service)
	svc.mailer = sender
	return svc, store
}

func seedMatch(t *testing.T, store interfaces.StorageManager, hash string, score int, priority models.MatchPriority, scoredAt time.Time) {
	t.Helper()

	m := &models.JobMatch{
		URLHash:   hash,
		URL:       "https://jobs.example.com/" + hash,
		Title:     "Platform Engineer",
		Company:   models.CompanySnapshot{Slug: "acme", Name: "Acme Corp"},
		Score:     score,
		Priority:  priority,
		Reasoning: "Good skill overlap.",
		Source:    models.SourceWebhook,
		ScoredAt:  scoredAt,
	}
	if _, err := store.MatchStorage().SaveIfBetter(context.Background(), m); err != nil {
		t.Fatalf("Failed to seed match %s: %v", hash, err)
	}
}

func TestRunOnceSendsDigest(t *testing.T) {
	sender := &fakeSender{configured: true}
	svc, store := newTestService(t, common.DigestConfig{
		Enabled:     true,
		MinPriority: "MEDIUM",
		AttachPDF:   true,
	}, sender)

	recent := time.Now().UTC().Add(-time.Hour)
	seedMatch(t, store, "hash-high", 92, models.PriorityHigh, recent)
	seedMatch(t, store, "hash-med", 70, models.PriorityMedium, recent)
	seedMatch(t, store, "hash-low", 40, models.PriorityLow, recent)

	ctx := context.Background()
	n, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 matches mailed, got %d", n)
	}
	if sender.sends != 1 {
		t.Fatalf("Expected 1 send, got %d", sender.sends)
	}
	if sender.to != "digest@example.com" {
		t.Errorf("Unexpected recipient %q", sender.to)
	}
	if sender.subject != "Peto match digest: 2 new" {
		t.Errorf("Unexpected subject %q", sender.subject)
	}
	if !strings.Contains(sender.textBody, "| 92 | HIGH |") {
		t.Errorf("Text body missing high match row:\n%s", sender.textBody)
	}
	if strings.Contains(sender.textBody, "| 40 |") {
		t.Error("Low priority match leaked past the MEDIUM floor")
	}
	if !strings.Contains(sender.htmlBody, "<table>") {
		t.Error("HTML body missing rendered table")
	}
	if !strings.Contains(sender.htmlBody, "Platform Engineer") {
		t.Error("HTML body missing match title")
	}

	if len(sender.attachments) != 1 {
		t.Fatalf("Expected 1 attachment, got %d", len(sender.attachments))
	}
	att := sender.attachments[0]
	if !strings.HasPrefix(att.Filename, "peto-digest-") {
		t.Errorf("Unexpected attachment name %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("Unexpected content type %q", att.ContentType)
	}
	if len(att.Content) < 4 || string(att.Content[:4]) != "%PDF" {
		t.Error("Attachment is not a PDF")
	}

	state, err := svc.loadState(ctx)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if state.LastSentAt.IsZero() || time.Since(state.LastSentAt) > time.Minute {
		t.Errorf("Last sent marker not advanced: %v", state.LastSentAt)
	}
}

func TestRunOnceOnlyNewMatches(t *testing.T) {
	sender := &fakeSender{configured: true}
	svc, store := newTestService(t, common.DigestConfig{Enabled: true}, sender)

	ctx := context.Background()
	seedMatch(t, store, "hash-old", 80, models.PriorityHigh, time.Now().UTC().Add(-2*time.Hour))
	if err := svc.saveState(ctx, &models.DigestState{LastSentAt: time.Now().UTC().Add(-time.Hour)}); err != nil {
		t.Fatalf("Failed to save state: %v", err)
	}

	n, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no matches mailed, got %d", n)
	}
	if sender.sends != 0 {
		t.Errorf("Expected no send, got %d", sender.sends)
	}
}

func TestRunOnceFirstRunWindow(t *testing.T) {
	sender := &fakeSender{configured: true}
	svc, store := newTestService(t, common.DigestConfig{Enabled: true}, sender)

	seedMatch(t, store, "hash-ancient", 85, models.PriorityHigh, time.Now().UTC().Add(-48*time.Hour))
	seedMatch(t, store, "hash-fresh", 75, models.PriorityMedium, time.Now().UTC().Add(-time.Hour))

	n, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected only the fresh match, got %d", n)
	}
	if len(sender.attachments) != 0 {
		t.Errorf("Expected no attachment without attach_pdf, got %d", len(sender.attachments))
	}
}

func TestRunOnceDisabledOrUnconfigured(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		configured bool
	}{
		{"disabled", false, true},
		{"smtp not configured", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{configured: tt.configured}
			svc, store := newTestService(t, common.DigestConfig{Enabled: tt.enabled}, sender)
			seedMatch(t, store, "hash-a", 90, models.PriorityHigh, time.Now().UTC())

			n, err := svc.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce failed: %v", err)
			}
			if n != 0 || sender.sends != 0 {
				t.Errorf("Expected silent no-op, got n=%d sends=%d", n, sender.sends)
			}
		})
	}
}

func TestRunOnceSendFailureKeepsWindow(t *testing.T) {
	sender := &fakeSender{configured: true, sendErr: errors.New("dial tcp: connection refused")}
	svc, store := newTestService(t, common.DigestConfig{Enabled: true}, sender)

	seedMatch(t, store, "hash-a", 90, models.PriorityHigh, time.Now().UTC().Add(-time.Hour))

	ctx := context.Background()
	if _, err := svc.RunOnce(ctx); err == nil {
		t.Fatal("Expected send failure to surface")
	}

	state, err := svc.loadState(ctx)
	if err != nil {
		t.Fatalf("Failed to load state: %v", err)
	}
	if !state.LastSentAt.IsZero() {
		t.Errorf("Marker advanced despite failed send: %v", state.LastSentAt)
	}

	// Same window succeeds once delivery recovers
	sender.sendErr = nil
	n, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce retry failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected the match to be re-mailed, got %d", n)
	}
}

func TestPriorityFloor(t *testing.T) {
	tests := []struct {
		min  string
		want int
	}{
		{"HIGH", 0},
		{"medium", 1},
		{"LOW", 2},
		{"", 2},
		{"bogus", 2},
	}

	for _, tt := range tests {
		if got := priorityFloor(tt.min); got != tt.want {
			t.Errorf("priorityFloor(%q) = %d, want %d", tt.min, got, tt.want)
		}
	}
}

func TestBuildMarkdown(t *testing.T) {
	now := time.Now().UTC()
	matches := []*models.JobMatch{
		{
			URLHash:       "h1",
			URL:           "https://jobs.example.com/1",
			Title:         "SRE | Platform",
			Company:       models.CompanySnapshot{Name: "Acme"},
			Score:         91,
			Priority:      models.PriorityHigh,
			MatchedSkills: []string{"Go", "Kubernetes"},
			Reasoning:     "Strong fit.",
			ScoredAt:      now,
		},
		{
			URLHash:  "h2",
			URL:      "https://jobs.example.com/2",
			Title:    "Data Engineer",
			Company:  models.CompanySnapshot{Name: "Beta"},
			Score:    66,
			Priority: models.PriorityMedium,
			ScoredAt: now,
		},
	}

	md := buildMarkdown(matches, now.Add(-time.Hour), now)

	if !strings.Contains(md, `SRE \| Platform`) {
		t.Error("Pipe in title not escaped for the table")
	}
	if !strings.Contains(md, "## High Priority") {
		t.Error("Missing high priority section")
	}
	if !strings.Contains(md, "**Matched:** Go, Kubernetes") {
		t.Error("Missing matched skills line")
	}
	if strings.Contains(md, "Data Engineer at Beta") {
		t.Error("Medium match should not get a details block")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	sender := &fakeSender{configured: true}
	svc, _ := newTestService(t, common.DigestConfig{Enabled: false, Schedule: "0 0 7 * * *"}, sender)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
