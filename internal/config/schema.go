package config

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpherd/mcpherd/internal/errors"
)

// serverNameRE bounds identifiers so they stay safe for namespacing
// (URL paths, file names, log keys).
var serverNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const allowedSchema = `{
	"type": "object",
	"properties": {
		"tools":     {"type": "array", "items": {"type": "string"}},
		"prompts":   {"type": "array", "items": {"type": "string"}},
		"resources": {"type": "array", "items": {"type": "string"}}
	},
	"additionalProperties": false
}`

// Discriminated schemas, one per transport kind. additionalProperties is false
// so declaring stdio fields on an http server is a field-level violation
// rather than silently ignored config.
var (
	schemaStdio = mustSchema(`{
		"type": "object",
		"properties": {
			"type":     {"enum": ["stdio"]},
			"command":  {"type": "string", "minLength": 1},
			"args":     {"type": "array", "items": {"type": "string"}},
			"env":      {"type": "object", "additionalProperties": {"type": "string"}},
			"envFile":  {"type": "string", "minLength": 1},
			"cwd":      {"type": "string", "minLength": 1},
			"disabled": {"type": "boolean"},
			"allowed":  ` + allowedSchema + `
		},
		"required": ["command"],
		"additionalProperties": false
	}`)

	schemaHTTP = mustSchema(`{
		"type": "object",
		"properties": {
			"type":     {"enum": ["http"]},
			"url":      {"type": "string", "minLength": 1},
			"headers":  {"type": "object", "additionalProperties": {"type": "string"}},
			"disabled": {"type": "boolean"},
			"allowed":  ` + allowedSchema + `
		},
		"required": ["url"],
		"additionalProperties": false
	}`)

	schemaSSE = mustSchema(`{
		"type": "object",
		"properties": {
			"type":     {"enum": ["sse"]},
			"url":      {"type": "string", "minLength": 1},
			"headers":  {"type": "object", "additionalProperties": {"type": "string"}},
			"disabled": {"type": "boolean"},
			"allowed":  ` + allowedSchema + `
		},
		"required": ["url"],
		"additionalProperties": false
	}`)
)

func mustSchema(doc string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}
	return s
}

// inferKind decides the transport discriminant for a raw entry.
// An explicit type wins; otherwise url implies http and command implies stdio.
func inferKind(entry ServerEntry) (TransportKind, error) {
	switch entry.Type {
	case "":
		// Fall through to inference.
	case string(TransportHTTP):
		return TransportHTTP, nil
	case string(TransportSSE):
		return TransportSSE, nil
	case string(TransportStdio):
		return TransportStdio, nil
	default:
		return "", fmt.Errorf("type: unknown transport kind %q", entry.Type)
	}

	switch {
	case entry.URL != "" && entry.Command != "":
		return "", fmt.Errorf("type: both url and command present, transport kind is ambiguous")
	case entry.URL != "":
		return TransportHTTP, nil
	case entry.Command != "":
		return TransportStdio, nil
	default:
		return "", fmt.Errorf("type: unable to infer transport kind, entry declares neither url nor command")
	}
}

// validateEntry checks one raw server document against the schema for its kind.
// Returns the decoded entry and the decided kind; a non-empty violations slice
// means the entry must be excluded.
func validateEntry(name string, raw json.RawMessage) (ServerEntry, TransportKind, *ServerError) {
	if !serverNameRE.MatchString(name) {
		return ServerEntry{}, "", &ServerError{
			Server:     name,
			Violations: []string{"name: must contain only alphanumerics, '-' or '_'"},
			Err:        errors.ErrServerInvalid,
		}
	}

	var entry ServerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return ServerEntry{}, "", &ServerError{
			Server:     name,
			Violations: []string{fmt.Sprintf("entry: %v", err)},
			Err:        errors.ErrServerInvalid,
		}
	}

	kind, err := inferKind(entry)
	if err != nil {
		return ServerEntry{}, "", &ServerError{
			Server:     name,
			Violations: []string{err.Error()},
			Err:        errors.ErrServerInvalid,
		}
	}

	var schema *gojsonschema.Schema
	switch kind {
	case TransportStdio:
		schema = schemaStdio
	case TransportSSE:
		schema = schemaSSE
	default:
		schema = schemaHTTP
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ServerEntry{}, "", &ServerError{
			Server:     name,
			Violations: []string{fmt.Sprintf("entry: %v", err)},
			Err:        errors.ErrServerInvalid,
		}
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, v := range result.Errors() {
			violations = append(violations, fmt.Sprintf("%s: %s", v.Field(), v.Description()))
		}
		return ServerEntry{}, "", &ServerError{
			Server:     name,
			Violations: violations,
			Err:        errors.ErrServerInvalid,
		}
	}

	return entry, kind, nil
}
