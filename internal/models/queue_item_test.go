package models

import (
	"encoding/json"
	"testing"
)

func TestQueueItemStatusIsTerminal(t *testing.T) {
	terminal := []QueueItemStatus{StatusSuccess, StatusSkipped, StatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []QueueItemStatus{StatusPending, StatusProcessing} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestQueueItemValidate(t *testing.T) {
	valid := QueueItem{
		ID:      "item-1",
		Type:    ItemTypeJob,
		URL:     "https://example.com/jobs/1",
		URLHash: "abc",
		Source:  SourceWebhook,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid item rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*QueueItem)
	}{
		{"missing id", func(q *QueueItem) { q.ID = "" }},
		{"bad type", func(q *QueueItem) { q.Type = "BOGUS" }},
		{"missing url", func(q *QueueItem) { q.URL = "" }},
		{"missing hash", func(q *QueueItem) { q.URLHash = "" }},
		{"bad source", func(q *QueueItem) { q.Source = "CARRIER_PIGEON" }},
	}
	for _, tt := range tests {
		item := valid
		tt.mutate(&item)
		if err := item.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestHasScrapedData(t *testing.T) {
	item := &QueueItem{}
	if item.HasScrapedData() {
		t.Error("Empty scraped_data should report false")
	}

	item.ScrapedData = json.RawMessage("null")
	if item.HasScrapedData() {
		t.Error("JSON null should report false")
	}

	item.ScrapedData = json.RawMessage(`{"title":"Engineer"}`)
	if !item.HasScrapedData() {
		t.Error("Populated scraped_data should report true")
	}
}
