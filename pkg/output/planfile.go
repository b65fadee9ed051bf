package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/qbucket/pkg/planner"
)

// PlanFormat selects the encoding of a saved plan.
type PlanFormat string

const (
	PlanFormatJSON PlanFormat = "json"
	PlanFormatYAML PlanFormat = "yaml"
)

// PlanFormatFor picks the format from a file extension: .yaml and .yml
// select YAML, anything else JSON.
func PlanFormatFor(path string) PlanFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return PlanFormatYAML
	}
	return PlanFormatJSON
}

// EncodePlan serializes a plan.
func EncodePlan(plan *planner.Plan, format PlanFormat) ([]byte, error) {
	switch format {
	case PlanFormatYAML:
		return yaml.Marshal(plan)
	case PlanFormatJSON:
		data, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("unsupported plan format %q", format)
}

// DecodePlan parses a plan written by EncodePlan.
func DecodePlan(data []byte, format PlanFormat) (*planner.Plan, error) {
	var plan planner.Plan
	var err error
	switch format {
	case PlanFormatYAML:
		err = yaml.Unmarshal(data, &plan)
	case PlanFormatJSON:
		err = json.Unmarshal(data, &plan)
	default:
		return nil, fmt.Errorf("unsupported plan format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// WritePlanFile writes the plan to path, creating parent directories.
// The format follows the file extension.
func WritePlanFile(path string, plan *planner.Plan) error {
	data, err := EncodePlan(plan, PlanFormatFor(path))
	if err != nil {
		return &WriteError{Op: "encode_plan", Err: err}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &WriteError{Op: "mkdir", Err: err}
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Op: "write_plan", Err: err}
	}
	return nil
}

// ReadPlanFile reads a plan saved by WritePlanFile.
func ReadPlanFile(path string) (*planner.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePlan(data, PlanFormatFor(path))
}
