package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/usecase"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Addr:              ":0",
		DBPath:            filepath.Join(t.TempDir(), "app.sqlite"),
		IdempotencyTTL:    usecase.DefaultIdempotencyTTL,
		WorkerInterval:    10 * time.Millisecond,
		WorkerBatchSize:   10,
		WorkerConcurrency: 2,
		RetryAttempts:     3,
		PurgeInterval:     time.Hour,
	}
}

func TestConfigValidate(t *testing.T) {
	if err := testConfig(t).Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := testConfig(t)
	cfg.DBPath = " "
	cfg.WorkerBatchSize = 0
	cfg.WebhookURL = "ftp://example.com/hook"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"db path", "batch size", "webhook url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryAttempts = 5
	cfg.RetryBackoff = []time.Duration{time.Second}
	p := cfg.retryPolicy()
	if p.MaxAttempts != 5 || len(p.Backoff) != 1 {
		t.Fatalf("unexpected policy: %+v", p)
	}

	cfg.RetryBackoff = nil
	if got := cfg.retryPolicy().Backoff; len(got) != len(usecase.DefaultRetryPolicy().Backoff) {
		t.Fatalf("expected default backoff, got %v", got)
	}
}

func TestNewWiresExecutorAndServer(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	exec, err := a.Executor.Execute(ctx, domain.InboundCommand{
		IdempotencyKey: "k-1",
		Source:         "test",
		Type:           usecase.CommandCreateOccurrence,
		ScopeKey:       "EXT-1",
		Payload: map[string]any{
			"externalId":  "EXT-1",
			"type":        "resgate_veicular",
			"description": "Vehicle rescue",
			"reportedAt":  "2026-02-01T10:00:00Z",
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exec.Outcome != usecase.OutcomeProcessed {
		t.Fatalf("unexpected outcome %+v", exec)
	}

	srv := httptest.NewServer(a.Server().Handler)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestStartBackgroundAndClose(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.StartBackground(context.Background())
	a.StartBackground(context.Background())
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.IdempotencyTTL = 0
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected config error")
	}
}
