package usecase

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atvirokodosprendimai/incidentd/internal/core/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// PayloadValidator checks command payloads against the JSON schema of their
// command type before they are accepted into the ledger.
type PayloadValidator struct {
	schemas map[string]*santhosh.Schema
}

// NewPayloadValidator compiles one schema per file in schemas/, keyed by
// file name without extension.
func NewPayloadValidator() (*PayloadValidator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("read schemas: %w", err)
	}
	v := &PayloadValidator{schemas: make(map[string]*santhosh.Schema, len(entries))}
	for _, entry := range entries {
		raw, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		compiled, err := compileSchema(entry.Name(), raw)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", entry.Name(), err)
		}
		v.schemas[strings.TrimSuffix(entry.Name(), ".json")] = compiled
	}
	return v, nil
}

// Validate returns domain.ErrUnsupportedCommand for a type with no schema and
// *domain.ErrSchemaViolation when the payload does not conform.
func (v *PayloadValidator) Validate(cmd domain.InboundCommand) error {
	sch, ok := v.schemas[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedCommand, cmd.Type)
	}
	payload := cmd.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrInvalidArgument, err)
	}
	return runValidation(cmd.Type, sch, raw)
}

func compileSchema(name string, schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource(name, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

func runValidation(commandType string, sch *santhosh.Schema, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decode payload: %v", domain.ErrInvalidArgument, err)
	}
	if err := sch.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &domain.ErrSchemaViolation{CommandType: commandType, Errors: collectValidationErrors(ve)}
		}
		return &domain.ErrSchemaViolation{CommandType: commandType, Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}
