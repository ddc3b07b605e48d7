package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/queue"
	"github.com/shaiso/Pricewatch/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeSearches struct {
	searches map[string]*domain.Search
	err      error
}

func (f *fakeSearches) Get(_ context.Context, id, userID string) (*domain.Search, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.searches[id]
	if !ok || s.UserID != userID {
		return nil, repo.ErrNotFound
	}
	c := *s
	return &c, nil
}

type fakePrices struct {
	mu      sync.Mutex
	records []domain.PriceRecord
	saveErr error
}

func (f *fakePrices) SaveBatch(_ context.Context, records []domain.PriceRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.records = append(f.records, records...)
	return int64(len(records)), nil
}

func (f *fakePrices) ListLatest(_ context.Context, searchID string, limit int) ([]domain.PriceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PriceRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].SearchID == searchID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

func (f *fakePrices) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type recordingNotifier struct {
	mu       sync.Mutex
	insights []Insights
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, _ *domain.Search, ins Insights) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.insights = append(n.insights, ins)
	return n.err
}

func (n *recordingNotifier) calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.insights)
}

type processorEnv struct {
	searches  *fakeSearches
	prices    *fakePrices
	notifier  *recordingNotifier
	clock     *clockwork.FakeClock
	listings  []domain.Listing
	scrapeErr error
	scrapes   int
}

func newProcessorEnv() *processorEnv {
	return &processorEnv{
		searches: &fakeSearches{searches: map[string]*domain.Search{
			"s1":   {ID: "s1", UserID: "u1", Active: true, Criteria: map[string]any{"query": "iphone"}},
			"off":  {ID: "off", UserID: "u1", Active: false},
			"ebay": {ID: "ebay", UserID: "u1", Active: true, Criteria: map[string]any{"source": "ebay"}},
		}},
		prices:   &fakePrices{},
		notifier: &recordingNotifier{},
		clock:    clockwork.NewFakeClockAt(t0),
	}
}

func (e *processorEnv) processor() *Processor {
	registry := NewRegistry()
	registry.Register(DefaultSource, ScraperFunc(func(context.Context, *domain.Search) ([]domain.Listing, error) {
		e.scrapes++
		return e.listings, e.scrapeErr
	}))
	return NewProcessor(ProcessorConfig{
		Searches: e.searches,
		Prices:   e.prices,
		Registry: registry,
		Notifier: e.notifier,
		Clock:    e.clock,
	})
}

func job(searchID string) domain.JobMessage {
	return domain.JobMessage{SearchID: searchID, UserID: "u1", ScheduleType: domain.ScheduleTypeScheduled}
}

// --- Processor ---

func TestProcess_Success(t *testing.T) {
	e := newProcessorEnv()
	e.listings = []domain.Listing{
		{ExternalID: "a", Title: "A", Price: 100},
		{ExternalID: "b", Title: "B", Price: 50},
	}
	p := e.processor()

	if err := p.Process(context.Background(), job("s1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if e.prices.count() != 2 {
		t.Fatalf("saved %d records, want 2", e.prices.count())
	}
	rec := e.prices.records[0]
	if rec.SearchID != "s1" || rec.UserID != "u1" || !rec.ObservedAt.Equal(t0) {
		t.Errorf("record = %+v", rec)
	}
	if e.notifier.calls() != 1 {
		t.Fatalf("notifications = %d, want 1", e.notifier.calls())
	}
	ins := e.notifier.insights[0]
	if ins.New != 2 || ins.Previous != nil {
		t.Errorf("insights = %+v, want 2 new and no previous", ins)
	}
	if ins.Current.Min != 50 || ins.Current.Max != 100 || ins.Current.Avg != 75 {
		t.Errorf("summary = %+v", ins.Current)
	}
}

func TestProcess_DetectsPriceDrop(t *testing.T) {
	e := newProcessorEnv()
	e.listings = []domain.Listing{{ExternalID: "a", Price: 100}, {ExternalID: "b", Price: 40}}
	p := e.processor()
	ctx := context.Background()

	if err := p.Process(ctx, job("s1")); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	e.clock.Advance(6 * time.Hour)
	e.listings = []domain.Listing{{ExternalID: "a", Price: 80}, {ExternalID: "b", Price: 40}}
	if err := p.Process(ctx, job("s1")); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}

	if e.notifier.calls() != 2 {
		t.Fatalf("notifications = %d, want 2", e.notifier.calls())
	}
	ins := e.notifier.insights[1]
	if len(ins.Drops) != 1 || ins.Drops[0].ExternalID != "a" || ins.Drops[0].OldPrice != 100 {
		t.Errorf("drops = %+v", ins.Drops)
	}
	if ins.New != 0 || ins.Previous == nil || ins.Previous.Count != 2 {
		t.Errorf("insights = %+v", ins)
	}

	// Третий запуск без изменений — без уведомления.
	e.clock.Advance(6 * time.Hour)
	if err := p.Process(ctx, job("s1")); err != nil {
		t.Fatalf("third Process failed: %v", err)
	}
	if e.notifier.calls() != 2 {
		t.Errorf("notifications = %d, want 2 (unchanged run skipped)", e.notifier.calls())
	}
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name         string
		job          domain.JobMessage
		setup        func(e *processorEnv)
		wantErr      error
		nonRetryable bool
	}{
		{
			name:         "search not found",
			job:          job("missing"),
			wantErr:      ErrSearchNotFound,
			nonRetryable: true,
		},
		{
			name:         "other owner",
			job:          domain.JobMessage{SearchID: "s1", UserID: "u2", ScheduleType: domain.ScheduleTypeManual},
			wantErr:      ErrSearchNotFound,
			nonRetryable: true,
		},
		{
			name:         "inactive",
			job:          job("off"),
			wantErr:      ErrSearchInactive,
			nonRetryable: true,
		},
		{
			name:         "unknown source",
			job:          job("ebay"),
			wantErr:      ErrUnknownSource,
			nonRetryable: true,
		},
		{
			name:  "store unavailable",
			job:   job("s1"),
			setup: func(e *processorEnv) { e.searches.err = errors.New("connection refused") },
		},
		{
			name:    "scrape failure",
			job:     job("s1"),
			setup:   func(e *processorEnv) { e.scrapeErr = ErrScrapeFailed },
			wantErr: ErrScrapeFailed,
		},
		{
			name: "save failure",
			job:  job("s1"),
			setup: func(e *processorEnv) {
				e.listings = []domain.Listing{{ExternalID: "a", Price: 1}}
				e.prices.saveErr = errors.New("disk full")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newProcessorEnv()
			if tt.setup != nil {
				tt.setup(e)
			}
			err := e.processor().Process(context.Background(), tt.job)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if got := queue.IsNonRetryable(err); got != tt.nonRetryable {
				t.Errorf("IsNonRetryable(%v) = %v, want %v", err, got, tt.nonRetryable)
			}
		})
	}
}

func TestProcess_NotifierErrorIgnored(t *testing.T) {
	e := newProcessorEnv()
	e.listings = []domain.Listing{{ExternalID: "a", Price: 10}}
	e.notifier.err = errors.New("smtp down")

	if err := e.processor().Process(context.Background(), job("s1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if e.prices.count() != 1 {
		t.Errorf("saved %d, want 1", e.prices.count())
	}
}

// --- HTTPScraper ---

func TestHTTPScraper_Success(t *testing.T) {
	var received scrapeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/scrape" {
			t.Errorf("request = %s %s, want POST /scrape", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		json.NewDecoder(r.Body).Decode(&received)
		json.NewEncoder(w).Encode(map[string]any{
			"listings": []map[string]any{
				{"external_id": "x1", "title": "Phone", "url": "https://shop/x1", "price": 499.9},
			},
		})
	}))
	defer server.Close()

	scraper := &HTTPScraper{BaseURL: server.URL + "/"}
	search := &domain.Search{ID: "s1", Criteria: map[string]any{"query": "phone"}}

	listings, err := scraper.Scrape(context.Background(), search)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if received.SearchID != "s1" || received.Criteria["query"] != "phone" {
		t.Errorf("server received %+v", received)
	}
	if len(listings) != 1 || listings[0].ExternalID != "x1" || listings[0].Price != 499.9 {
		t.Errorf("listings = %+v", listings)
	}
}

func TestHTTPScraper_StatusClassification(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		nonRetryable bool
	}{
		{"not found", http.StatusNotFound, `{"error":"boom"}`, true},
		{"gone", http.StatusGone, `{"error":"boom"}`, true},
		{"bad request", http.StatusBadRequest, `{"error":"boom"}`, true},
		{"unprocessable", http.StatusUnprocessableEntity, `{"error":"boom"}`, true},
		{"too many requests", http.StatusTooManyRequests, `{"error":"boom"}`, false},
		{"internal error", http.StatusInternalServerError, `{"error":"boom"}`, false},
		{"bad gateway", http.StatusBadGateway, `{"error":"boom"}`, false},
		{"bad gateway route not found", http.StatusBadGateway, "upstream route not found", false},
		{"unavailable user inactive", http.StatusServiceUnavailable, "backend user is inactive", false},
		{"gateway timeout no longer exists", http.StatusGatewayTimeout, "connection no longer exists", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := (&HTTPScraper{BaseURL: server.URL}).Scrape(context.Background(), &domain.Search{ID: "s1"})
			if !errors.Is(err, ErrScrapeFailed) {
				t.Fatalf("error = %v, want ErrScrapeFailed", err)
			}
			if got := queue.IsNonRetryable(err); got != tt.nonRetryable {
				t.Errorf("IsNonRetryable = %v, want %v (%v)", got, tt.nonRetryable, err)
			}
			// processor оборачивает ошибку scraper'а, класс должен сохраниться
			wrapped := fmt.Errorf("scrape search s1: %w", err)
			if got := queue.IsNonRetryable(wrapped); got != tt.nonRetryable {
				t.Errorf("wrapped IsNonRetryable = %v, want %v", got, tt.nonRetryable)
			}
		})
	}
}

func TestHTTPScraper_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	scraper := &HTTPScraper{BaseURL: server.URL, Timeout: 50 * time.Millisecond}
	_, err := scraper.Scrape(context.Background(), &domain.Search{ID: "s1"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if queue.IsNonRetryable(err) {
		t.Errorf("timeout must be retryable: %v", err)
	}
}

func TestHTTPScraper_NotConfigured(t *testing.T) {
	_, err := (&HTTPScraper{}).Scrape(context.Background(), &domain.Search{ID: "s1"})
	if !errors.Is(err, ErrScrapeFailed) {
		t.Errorf("error = %v, want ErrScrapeFailed", err)
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("HTTP", &HTTPScraper{})
	r.Register("ebay", &HTTPScraper{})

	if _, err := r.Get("http"); err != nil {
		t.Errorf("Get(http) failed: %v", err)
	}
	_, err := r.Get("amazon")
	if !errors.Is(err, ErrUnknownSource) || !errors.Is(err, queue.ErrPermanent) {
		t.Errorf("Get(amazon) error = %v, want permanent ErrUnknownSource", err)
	}
	if got := r.Sources(); len(got) != 2 || got[0] != "ebay" || got[1] != "http" {
		t.Errorf("Sources = %v", got)
	}
	if !strings.Contains(err.Error(), "known: ebay, http") {
		t.Errorf("error %q should list registered sources", err)
	}
}

// --- Insights ---

func TestNormalizeListings(t *testing.T) {
	got := normalizeListings([]domain.Listing{
		{ExternalID: "a", Price: 30},
		{ExternalID: " a ", Price: 20},
		{ExternalID: "b", Price: 10},
		{ExternalID: "", Price: 5},
		{ExternalID: "free", Price: 0},
	})
	if len(got) != 2 {
		t.Fatalf("got %d listings, want 2: %+v", len(got), got)
	}
	if got[0].ExternalID != "b" || got[1].ExternalID != "a" || got[1].Price != 20 {
		t.Errorf("listings = %+v", got)
	}
}

func TestSummarize(t *testing.T) {
	if s := Summarize(nil); s != (domain.PriceSummary{}) {
		t.Errorf("Summarize(nil) = %+v", s)
	}
	s := Summarize([]domain.PriceRecord{{Price: 10}, {Price: 20}, {Price: 25}})
	want := domain.PriceSummary{Count: 3, Min: 10, Max: 25, Avg: 18.33}
	if s != want {
		t.Errorf("Summarize = %+v, want %+v", s, want)
	}
}

func TestBuildInsights_UsesLatestPreviousRun(t *testing.T) {
	older := t0.Add(-12 * time.Hour)
	newer := t0.Add(-6 * time.Hour)
	previous := []domain.PriceRecord{
		{ExternalID: "a", Price: 200, ObservedAt: older},
		{ExternalID: "a", Price: 90, ObservedAt: newer},
		{ExternalID: "b", Price: 50, ObservedAt: newer},
	}
	current := []domain.PriceRecord{
		{ExternalID: "a", Price: 100, ObservedAt: t0},
		{ExternalID: "b", Price: 25, ObservedAt: t0},
		{ExternalID: "c", Price: 1, ObservedAt: t0},
	}

	ins := BuildInsights("s1", current, previous)
	if ins.New != 1 {
		t.Errorf("New = %d, want 1", ins.New)
	}
	if len(ins.Drops) != 1 || ins.Drops[0].ExternalID != "b" {
		t.Fatalf("Drops = %+v, want only b", ins.Drops)
	}
	if p := ins.Drops[0].Percent(); p != 50 {
		t.Errorf("Percent = %v, want 50", p)
	}
	if ins.Previous == nil || ins.Previous.Count != 2 {
		t.Errorf("Previous = %+v, want the newer run only", ins.Previous)
	}
}

// --- Worker over the in-memory queue ---

func TestWorker_EndToEnd(t *testing.T) {
	e := newProcessorEnv()
	e.listings = []domain.Listing{{ExternalID: "a", Price: 10}}

	transport := queue.NewMemoryTransport(queue.MemoryConfig{PollInterval: 5 * time.Millisecond})
	consumer := queue.NewConsumer(queue.ConsumerConfig{Transport: transport, LockRenewInterval: -1})
	w := New(Config{Consumer: consumer, Processor: e.processor()})
	ctx := context.Background()

	if err := w.Ping(ctx); !errors.Is(err, ErrWorkerNotStarted) {
		t.Errorf("Ping before Start = %v, want ErrWorkerNotStarted", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Ping(ctx); err != nil {
		t.Errorf("Ping after Start = %v", err)
	}

	if _, err := consumer.PublishBatch(ctx, []domain.JobMessage{job("s1"), job("missing")}); err != nil {
		t.Fatalf("PublishBatch failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for transport.Completed() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if transport.Completed() != 2 {
		t.Fatalf("completed = %d, want 2", transport.Completed())
	}
	if e.prices.count() != 1 {
		t.Errorf("saved %d records, want 1", e.prices.count())
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Ping(ctx); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Ping after Stop = %v, want ErrWorkerStopped", err)
	}
	if err := w.Stop(stopCtx); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if err := w.Start(ctx); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("Start after Stop error = %v, want ErrWorkerStopped", err)
	}
}
