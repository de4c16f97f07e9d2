package models

import (
	"testing"
	"time"
)

func TestRecordAttemptRingCap(t *testing.T) {
	s := &Source{SourceID: "src-1"}
	now := time.Now()

	for i := 0; i < AttemptHistoryCap+10; i++ {
		s.RecordAttempt(now.Add(time.Duration(i)*time.Minute), true)
	}

	if len(s.RecentAttempts) != AttemptHistoryCap {
		t.Errorf("Ring length = %d, want %d", len(s.RecentAttempts), AttemptHistoryCap)
	}

	// The oldest surviving entry is attempt 10
	want := now.Add(10 * time.Minute)
	if !s.RecentAttempts[0].At.Equal(want) {
		t.Errorf("Oldest attempt = %v, want %v", s.RecentAttempts[0].At, want)
	}
}

func TestRecalcHealthNewSourceScoresOne(t *testing.T) {
	s := &Source{SourceID: "src-1"}
	s.RecalcHealth()

	if s.HealthScore != 1.0 {
		t.Errorf("Health of unused source = %v, want 1.0", s.HealthScore)
	}
}

func TestRecalcHealthDegradesOnFailures(t *testing.T) {
	now := time.Now()

	healthy := &Source{SourceID: "healthy"}
	for i := 0; i < HealthWindow; i++ {
		healthy.RecordAttempt(now, true)
	}
	healthy.RecalcHealth()

	failing := &Source{SourceID: "failing"}
	for i := 0; i < HealthWindow; i++ {
		failing.RecordAttempt(now, false)
	}
	failing.RecalcHealth()

	if healthy.HealthScore <= failing.HealthScore {
		t.Errorf("Healthy score %v should exceed failing score %v", healthy.HealthScore, failing.HealthScore)
	}
	if failing.HealthScore < 0 || failing.HealthScore > 1 {
		t.Errorf("Health score %v out of [0,1]", failing.HealthScore)
	}
}

func TestRecalcHealthRecentAttemptsWeighMore(t *testing.T) {
	now := time.Now()

	// Old failures then recent successes
	recovering := &Source{SourceID: "recovering"}
	for i := 0; i < 10; i++ {
		recovering.RecordAttempt(now, false)
	}
	for i := 0; i < 10; i++ {
		recovering.RecordAttempt(now, true)
	}
	recovering.RecalcHealth()

	// Old successes then recent failures
	degrading := &Source{SourceID: "degrading"}
	for i := 0; i < 10; i++ {
		degrading.RecordAttempt(now, true)
	}
	for i := 0; i < 10; i++ {
		degrading.RecordAttempt(now, false)
	}
	degrading.RecalcHealth()

	if recovering.HealthScore <= degrading.HealthScore {
		t.Errorf("Recovering source (%v) should outscore degrading source (%v)",
			recovering.HealthScore, degrading.HealthScore)
	}
}

func TestScrapesPerDayWindow(t *testing.T) {
	now := time.Now()
	s := &Source{SourceID: "src-1"}

	// 30 attempts inside the window, 5 outside
	for i := 0; i < 30; i++ {
		s.RecordAttempt(now.AddDate(0, 0, -i), true)
	}
	for i := 0; i < 5; i++ {
		s.RecordAttempt(now.AddDate(0, 0, -40-i), true)
	}

	rate := s.ScrapesPerDay(now)
	want := 30.0 / 30.0
	if rate != want {
		t.Errorf("ScrapesPerDay = %v, want %v", rate, want)
	}
}

func TestLastScrapedOrEpoch(t *testing.T) {
	s := &Source{SourceID: "src-1"}
	if !s.LastScrapedOrEpoch().IsZero() {
		t.Error("Never-scraped source should report the zero time")
	}

	at := time.Now()
	s.LastScrapedAt = &at
	if !s.LastScrapedOrEpoch().Equal(at) {
		t.Errorf("LastScrapedOrEpoch = %v, want %v", s.LastScrapedOrEpoch(), at)
	}
}

func TestSourceValidate(t *testing.T) {
	valid := &Source{SourceID: "s1", Kind: KindRSS, BaseURL: "https://example.com/feed"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid source rejected: %v", err)
	}

	tests := []struct {
		name string
		src  Source
	}{
		{"missing id", Source{Kind: KindRSS, BaseURL: "https://x.com"}},
		{"bad kind", Source{SourceID: "s1", Kind: "linkedin", BaseURL: "https://x.com"}},
		{"missing url", Source{SourceID: "s1", Kind: KindRSS}},
	}
	for _, tt := range tests {
		if err := tt.src.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
