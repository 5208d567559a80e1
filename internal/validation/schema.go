package validation

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed essay_report.schema.json
var essayReportSchema []byte

var (
	reportSchemaOnce sync.Once
	reportSchema     *gojsonschema.Schema
	reportSchemaErr  error
)

// LoadSchema loads a JSON schema from a file
func LoadSchema(schemaPath string) (*gojsonschema.Schema, error) {
	schemaLoader := gojsonschema.NewReferenceLoader("file://" + schemaPath)
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	return schema, nil
}

// ReportSchema returns the compiled built-in essay report schema
func ReportSchema() (*gojsonschema.Schema, error) {
	reportSchemaOnce.Do(func() {
		reportSchema, reportSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(essayReportSchema))
		if reportSchemaErr != nil {
			reportSchemaErr = fmt.Errorf("failed to create schema: %w", reportSchemaErr)
		}
	})
	return reportSchema, reportSchemaErr
}

// ValidationError lists every schema violation found in a document
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

// ValidateReport validates a report JSON string against a schema
func ValidateReport(reportJSON string, schema *gojsonschema.Schema) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(reportJSON))
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &ValidationError{Problems: problems}
	}

	return nil
}

// ValidateEssayReport validates a report against the built-in schema
func ValidateEssayReport(reportJSON string) error {
	schema, err := ReportSchema()
	if err != nil {
		return err
	}
	return ValidateReport(reportJSON, schema)
}
