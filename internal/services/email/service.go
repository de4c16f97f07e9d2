package email

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

const defaultPollInterval = 2 * time.Minute

// urlPattern matches http(s) links in message text. Trailing sentence
// punctuation is stripped separately so "see https://x.co/jobs/1." still
// yields a clean URL.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// Submitter is the slice of intake the inbox watcher needs. The worker
// daemon's intake service satisfies it directly; the rotation driver
// passes the worker API client so submissions cross the wire.
type Submitter interface {
	SubmitJob(ctx context.Context, sub *interfaces.JobSubmission) (*interfaces.EnqueueResult, error)
}

// Service polls an IMAP inbox for submitted job URLs and funnels them
// through intake as EMAIL-source items. Messages are marked seen once
// handled; a message without URLs is still marked so it is not parsed
// again every poll.
type Service struct {
	cfg    *common.EmailConfig
	intake Submitter
	logger arbor.ILogger

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewService creates the inbox watcher. It stays dormant until Start,
// and Start is a no-op unless the config carries IMAP credentials.
func NewService(cfg *common.EmailConfig, intake Submitter, logger arbor.ILogger) *Service {
	return &Service{
		cfg:          cfg,
		intake:       intake,
		logger:       logger,
		pollInterval: common.Duration(cfg.PollInterval, defaultPollInterval),
	}
}

// Configured reports whether the watcher has enough settings to run.
func (s *Service) Configured() bool {
	return s.cfg.Enabled && s.cfg.Host != "" && s.cfg.Username != "" && s.cfg.Password != ""
}

// Start launches the poll loop when IMAP is configured.
func (s *Service) Start() error {
	if !s.Configured() {
		s.logger.Info().Msg("Email intake disabled (IMAP not configured)")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)

	s.logger.Info().
		Str("host", s.cfg.Host).
		Str("username", s.cfg.Username).
		Dur("poll_interval", s.pollInterval).
		Msg("Email intake started")
	return nil
}

// Stop halts the poll loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info().Msg("Email intake stopped")
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// One poll right away so submissions queued overnight are not
	// delayed by the first interval.
	s.pollAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAndLog(ctx)
		}
	}
}

func (s *Service) pollAndLog(ctx context.Context) {
	submitted, err := s.Poll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Inbox poll failed")
		return
	}
	if submitted > 0 {
		s.logger.Info().Int("submitted", submitted).Msg("Inbox poll submitted job URLs")
	}
}

// Poll connects once, drains unseen messages, submits every job URL
// found and marks handled messages seen. It returns the number of URLs
// submitted.
func (s *Service) Poll(ctx context.Context) (int, error) {
	c, err := s.dial()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return 0, fmt.Errorf("IMAP login failed: %w", err)
	}

	mbox, err := c.Select("INBOX", false)
	if err != nil {
		return 0, fmt.Errorf("failed to select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return 0, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	seqNums, err := c.Search(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return 0, nil
	}

	s.logger.Debug().Int("count", len(seqNums)).Msg("Found unseen messages")

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(seqNums))

	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, section.FetchItem()}, messages)
	}()

	submitted := 0
	handled := new(imap.SeqSet)
	for msg := range messages {
		if msg == nil {
			continue
		}

		from := ""
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
			if len(msg.Envelope.From) > 0 {
				from = msg.Envelope.From[0].Address()
			}
		}

		body, err := parseTextBody(msg, section)
		if err != nil {
			s.logger.Warn().Err(err).
				Int64("seq", int64(msg.SeqNum)).
				Msg("Failed to parse message body")
			// Mark unparseable messages seen too; they will never
			// parse better on a later poll.
			handled.AddNum(msg.SeqNum)
			continue
		}

		urls := ExtractJobURLs(subject + "\n" + body)
		for _, jobURL := range urls {
			result, err := s.intake.SubmitJob(ctx, &interfaces.JobSubmission{
				URL:         jobURL,
				Source:      models.SourceEmail,
				SubmittedBy: from,
			})
			if err != nil {
				s.logger.Warn().Err(err).
					Str("url", jobURL).
					Str("from", from).
					Msg("Failed to submit emailed URL")
				continue
			}
			if result.Accepted {
				submitted++
			}
			s.logger.Debug().
				Str("url", jobURL).
				Str("from", from).
				Bool("accepted", result.Accepted).
				Str("reason", result.Reason).
				Msg("Emailed URL handled")
		}

		handled.AddNum(msg.SeqNum)
	}

	if err := <-fetchDone; err != nil {
		return submitted, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		flags := []interface{}{imap.SeenFlag}
		if err := c.Store(handled, item, flags, nil); err != nil {
			return submitted, fmt.Errorf("failed to mark messages as read: %w", err)
		}
	}

	return submitted, nil
}

func (s *Service) dial() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if s.cfg.UseTLS {
		return client.DialTLS(addr, nil)
	}
	return client.Dial(addr)
}

// parseTextBody extracts the first text/plain part of a message.
func parseTextBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var body string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read body: %w", err)
				}
				body = string(b)
			}
		}
	}

	return strings.TrimSpace(body), nil
}

// ExtractJobURLs pulls http(s) links out of message text, deduplicating
// while preserving order of first appearance.
func ExtractJobURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		u := strings.TrimRight(m, ".,;:!?")
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}
