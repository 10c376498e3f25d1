package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
	"github.com/atvirokodosprendimai/incidentd/internal/core/usecase"
)

const envelope = `{"idempotencyKey":"k-1","type":"start_occurrence","scopeKey":"occ-1","payload":{"occurrenceId":"occ-1","priority":3}}`

func TestReadCommandFromStdin(t *testing.T) {
	cmd, err := readCommand("-", strings.NewReader(envelope))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cmd.Type != "start_occurrence" || cmd.Source != "cli" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if _, ok := cmd.Payload["priority"].(json.Number); !ok {
		t.Fatalf("expected numbers decoded as json.Number, got %T", cmd.Payload["priority"])
	}
}

func TestReadCommandFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.json")
	if err := os.WriteFile(path, []byte(envelope), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cmd, err := readCommand(path, strings.NewReader(""))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cmd.IdempotencyKey != "k-1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	if _, err := readCommand(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Fatalf("expected open error")
	}
	if _, err := readCommand("", strings.NewReader(`{"type":"x","extra":true}`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestPrintExecution(t *testing.T) {
	var buf bytes.Buffer
	err := printExecution(&buf, usecase.Execution{
		CommandID: "c-1",
		Outcome:   usecase.OutcomeProcessed,
		Status:    domain.CommandSucceeded,
		Result:    domain.StructuredResult(map[string]any{"occurrenceId": "o-1"}),
	})
	if err != nil {
		t.Fatalf("print: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "SUCCEEDED" || out["result"].(map[string]any)["occurrenceId"] != "o-1" {
		t.Fatalf("unexpected output: %v", out)
	}
}
