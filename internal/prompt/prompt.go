// Package prompt renders sectioned role prompts for the inference gateway.
// Empty sections are omitted so stages can share one builder.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Field describes a single output field in the expected response schema.
type Field struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// Example captures an optional input/output pair.
type Example struct {
	Label string
	Body  string
}

// Spec defines the sections of a structured prompt.
type Spec struct {
	Purpose      string
	Background   string
	Input        any
	OutputFields []Field
	Constraints  []string
	Rules        []string
	OutputFormat string
	Examples     []Example
	Note         string
}

// Build renders the prompt. Purpose and at least one output field are
// required.
func Build(spec Spec) (string, error) {
	if strings.TrimSpace(spec.Purpose) == "" {
		return "", fmt.Errorf("prompt: purpose is empty")
	}
	if len(spec.OutputFields) == 0 {
		return "", fmt.Errorf("prompt: output fields are empty")
	}
	inputJSON, err := formatAnyJSON(spec.Input)
	if err != nil {
		return "", fmt.Errorf("prompt: encode input: %w", err)
	}

	var buf bytes.Buffer
	writeSection(&buf, "PURPOSE", spec.Purpose)
	writeSection(&buf, "BACKGROUND", spec.Background)
	writeSection(&buf, "INPUT", inputJSON)
	writeSection(&buf, "OUTPUT", formatFields(spec.OutputFields))
	writeSection(&buf, "CONSTRAINTS", formatList(spec.Constraints))
	writeSection(&buf, "RULES", formatList(spec.Rules))
	writeSection(&buf, "OUTPUT_FORMAT", spec.OutputFormat)
	writeSection(&buf, "EXAMPLES", formatExamples(spec.Examples))
	writeSection(&buf, "NOTE", spec.Note)

	return strings.TrimSpace(buf.String()) + "\n", nil
}

func formatAnyJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatFields(fields []Field) string {
	var buf strings.Builder
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(&buf, "- %s (%s, %s): %s\n", name, f.Type, req, f.Description)
		} else {
			fmt.Fprintf(&buf, "- %s (%s, %s)\n", name, f.Type, req)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatExamples(examples []Example) string {
	var buf strings.Builder
	for i, ex := range examples {
		label := strings.TrimSpace(ex.Label)
		if label == "" {
			label = fmt.Sprintf("Example %d", i+1)
		}
		fmt.Fprintf(&buf, "%s:\n%s\n", label, strings.TrimSpace(ex.Body))
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(buf, "[%s]\n%s\n\n", title, body)
}
