// Package schema holds the declarative shape of a structured review report and
// validates model output against it.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joescharf/prboard/internal/models"
)

//go:embed review_report.schema.json
var reviewReportJSON []byte

const resourceURL = "prboard://review_report.schema.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// Document returns a copy of the raw JSON Schema document.
func Document() []byte {
	return bytes.Clone(reviewReportJSON)
}

// ToolInput returns the top-level properties and required list, the form an LLM
// tool definition expects for its input schema.
func ToolInput() (properties map[string]any, required []string, err error) {
	var doc struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(reviewReportJSON, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse review report schema: %w", err)
	}
	return doc.Properties, doc.Required, nil
}

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		if err := c.AddResource(resourceURL, bytes.NewReader(reviewReportJSON)); err != nil {
			compileErr = fmt.Errorf("load review report schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(resourceURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile review report schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// Validate checks raw JSON against the review report schema and decodes it.
// Any type or enumeration violation rejects the whole document.
func Validate(raw []byte) (*models.ReviewReport, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("review report failed schema validation: %w", err)
	}

	var report models.ReviewReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode review report: %w", err)
	}
	return &report, nil
}
