package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
)

// Service is the single entry point for job and company submissions.
// Every candidate passes canonicalization, the stop list, the dedup cache
// and the store-side existence checks before it reaches the queue.
type Service struct {
	queue    interfaces.QueueManager
	matches  interfaces.MatchStorage
	settings interfaces.SettingsService
	dedup    interfaces.DedupCache
	logger   arbor.ILogger
}

// NewService creates a new IntakeService
func NewService(queue interfaces.QueueManager, matches interfaces.MatchStorage, settings interfaces.SettingsService, dedup interfaces.DedupCache, logger arbor.ILogger) interfaces.IntakeService {
	return &Service{
		queue:    queue,
		matches:  matches,
		settings: settings,
		dedup:    dedup,
		logger:   logger,
	}
}

// SubmitJob funnels one candidate into the queue
func (s *Service) SubmitJob(ctx context.Context, sub *interfaces.JobSubmission) (*interfaces.EnqueueResult, error) {
	if sub == nil || strings.TrimSpace(sub.URL) == "" {
		return nil, fmt.Errorf("submission url is required")
	}

	canonical := common.CanonicalURL(sub.URL)
	hash := common.HashString(canonical)

	if reason, listed := s.stopList(ctx).Match(sub.CompanyName, postingText(sub.Posting), common.HostOf(canonical)); listed {
		return s.recordStopListed(ctx, s.buildJobItem(sub, canonical, hash), reason)
	}

	if result, done, err := s.checkDuplicate(ctx, canonical, hash); done || err != nil {
		return result, err
	}

	result, err := s.queue.Enqueue(ctx, s.buildJobItem(sub, canonical, hash))
	if err != nil {
		return nil, err
	}
	if result.Accepted {
		s.dedup.Set(hash)
	}
	return result, nil
}

// SubmitBatch funnels one scrape's worth of postings. Duplicates within
// the batch collapse onto the first occurrence before the store is
// consulted; results are positional.
func (s *Service) SubmitBatch(ctx context.Context, postings []*models.JobPosting, source models.ItemSource) ([]interfaces.EnqueueResult, error) {
	results := make([]interfaces.EnqueueResult, len(postings))
	if len(postings) == 0 {
		return results, nil
	}

	stop := s.stopList(ctx)

	type candidate struct {
		idx  int
		item *models.QueueItem
	}
	var candidates []candidate
	seen := make(map[string]bool, len(postings))

	for i, posting := range postings {
		if posting == nil || strings.TrimSpace(posting.URL) == "" {
			results[i] = interfaces.EnqueueResult{Reason: "missing url"}
			continue
		}

		canonical := common.CanonicalURL(posting.URL)
		hash := common.HashString(canonical)
		sub := &interfaces.JobSubmission{
			URL:         posting.URL,
			CompanyName: posting.CompanyName,
			Source:      source,
			Posting:     posting,
		}

		if reason, listed := stop.Match(posting.CompanyName, postingText(posting), common.HostOf(canonical)); listed {
			skipResult, err := s.recordStopListed(ctx, s.buildJobItem(sub, canonical, hash), reason)
			if err != nil {
				results[i] = interfaces.EnqueueResult{URL: canonical, Reason: err.Error()}
				continue
			}
			results[i] = *skipResult
			continue
		}

		if seen[hash] {
			results[i] = interfaces.EnqueueResult{URL: canonical, Duplicate: true, Reason: "duplicate"}
			continue
		}
		seen[hash] = true

		if result, done, err := s.checkDuplicate(ctx, canonical, hash); err != nil {
			results[i] = interfaces.EnqueueResult{URL: canonical, Reason: err.Error()}
			continue
		} else if done {
			results[i] = *result
			continue
		}

		candidates = append(candidates, candidate{idx: i, item: s.buildJobItem(sub, canonical, hash)})
	}

	if len(candidates) == 0 {
		return results, nil
	}

	items := make([]*models.QueueItem, len(candidates))
	for i, c := range candidates {
		items[i] = c.item
	}
	enqueued, err := s.queue.EnqueueBatch(ctx, items)
	if err != nil {
		return nil, err
	}

	accepted := make([]string, 0, len(candidates))
	for i, c := range candidates {
		results[c.idx] = enqueued[i]
		if enqueued[i].Accepted {
			accepted = append(accepted, c.item.URLHash)
		}
	}
	s.dedup.SetMany(accepted)

	return results, nil
}

// SubmitCompany enqueues a COMPANY analysis item. Companies without a
// website dedup on a slug-derived pseudo URL.
func (s *Service) SubmitCompany(ctx context.Context, companyName, website string) (*interfaces.EnqueueResult, error) {
	if strings.TrimSpace(companyName) == "" && strings.TrimSpace(website) == "" {
		return nil, fmt.Errorf("company name or website is required")
	}

	slug := models.CompanySlug(companyName, website)
	target := strings.TrimSpace(website)
	if target == "" {
		target = "company://" + slug
	}
	canonical := common.CanonicalURL(target)
	hash := common.HashString(canonical)

	item := &models.QueueItem{
		Type:           models.ItemTypeCompany,
		URL:            canonical,
		URLHash:        hash,
		CompanyName:    companyName,
		CompanyID:      slug,
		CompanyWebsite: website,
		Source:         models.SourceUserSubmission,
	}

	if reason, listed := s.stopList(ctx).Match(companyName, "", common.HostOf(canonical)); listed {
		return s.recordStopListed(ctx, item, reason)
	}

	if result, done, err := s.checkDuplicate(ctx, canonical, hash); done || err != nil {
		return result, err
	}

	result, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		return nil, err
	}
	if result.Accepted {
		s.dedup.Set(hash)
	}
	return result, nil
}

// checkDuplicate runs the cheap-to-expensive dedup ladder: in-process
// cache, then the matches collection. The queue's own non-terminal check
// runs inside Enqueue. done is true when the caller already has its
// answer.
func (s *Service) checkDuplicate(ctx context.Context, canonical, hash string) (*interfaces.EnqueueResult, bool, error) {
	if s.dedup.Check(hash) {
		s.logger.Trace().Str("url", canonical).Msg("Intake dedup cache hit")
		return &interfaces.EnqueueResult{URL: canonical, Duplicate: true, Reason: "duplicate"}, true, nil
	}

	_, err := s.matches.Get(ctx, hash)
	switch {
	case err == nil:
		// Already matched once; remember so rescans skip the store next time.
		s.dedup.Set(hash)
		return &interfaces.EnqueueResult{URL: canonical, Duplicate: true, Reason: "duplicate"}, true, nil
	case models.IsNotFound(err):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// recordStopListed writes the SKIPPED record and reports the reason
func (s *Service) recordStopListed(ctx context.Context, item *models.QueueItem, reason string) (*interfaces.EnqueueResult, error) {
	skipReason := "stop_listed:" + reason
	s.logger.Debug().
		Str("url", item.URL).
		Str("reason", skipReason).
		Msg("Submission stop-listed")
	return s.queue.RecordSkipped(ctx, item, skipReason)
}

// stopList returns the current stop list, or an empty one when config is
// unavailable. Config failures never fail intake.
func (s *Service) stopList(ctx context.Context) *models.StopList {
	list, err := s.settings.StopList(ctx)
	if err != nil || list == nil {
		if err != nil {
			s.logger.Warn().Err(err).Msg("Stop list unavailable, proceeding without")
		}
		return &models.StopList{}
	}
	return list
}

func (s *Service) buildJobItem(sub *interfaces.JobSubmission, canonical, hash string) *models.QueueItem {
	item := &models.QueueItem{
		Type:           models.ItemTypeJob,
		URL:            canonical,
		URLHash:        hash,
		CompanyName:    sub.CompanyName,
		CompanyWebsite: sub.Website,
		Source:         sub.Source,
		SubmittedBy:    sub.SubmittedBy,
	}
	if item.Source == "" {
		item.Source = models.SourceUserSubmission
	}
	if sub.Posting != nil {
		if data, err := json.Marshal(sub.Posting); err == nil {
			item.ScrapedData = data
		}
		if item.CompanyName == "" {
			item.CompanyName = sub.Posting.CompanyName
		}
	}
	return item
}

// postingText joins the fields the keyword stop list inspects
func postingText(posting *models.JobPosting) string {
	if posting == nil {
		return ""
	}
	return strings.TrimSpace(posting.Title + " " + posting.Description)
}
