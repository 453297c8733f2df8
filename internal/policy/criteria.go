package policy

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	goyaml "gopkg.in/yaml.v3"

	"github.com/chanyong1027/evalstudio/pkg/schema"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

// ValidationError rejects a criteria edit before it is submitted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Criteria field names as used by the evaluation service.
const (
	FieldMinPassRate               = "minPassRate"
	FieldMinAvgOverallScore        = "minAvgOverallScore"
	FieldMaxErrorRate              = "maxErrorRate"
	FieldMinImprovementNoticeDelta = "minImprovementNoticeDelta"
)

// CriteriaFields lists the editable criteria fields in display order.
var CriteriaFields = []string{
	FieldMinPassRate,
	FieldMinAvgOverallScore,
	FieldMaxErrorRate,
	FieldMinImprovementNoticeDelta,
}

// ParseCriteriaInput converts raw form values into an update body. Every
// field must be present, numeric and within [0,100]. Values are kept exactly
// as parsed.
func ParseCriteriaInput(fields map[string]string) (types.ReleaseCriteriaUpdate, error) {
	values := make(map[string]float64, len(CriteriaFields))
	for _, name := range CriteriaFields {
		raw := strings.TrimSpace(fields[name])
		if raw == "" {
			return types.ReleaseCriteriaUpdate{}, &ValidationError{Field: name, Message: "value is required"}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return types.ReleaseCriteriaUpdate{}, &ValidationError{Field: name, Message: fmt.Sprintf("%q is not a number", raw)}
		}
		values[name] = v
	}
	u := types.ReleaseCriteriaUpdate{
		MinPassRate:               values[FieldMinPassRate],
		MinAvgOverallScore:        values[FieldMinAvgOverallScore],
		MaxErrorRate:              values[FieldMaxErrorRate],
		MinImprovementNoticeDelta: values[FieldMinImprovementNoticeDelta],
	}
	if err := CheckUpdate(u); err != nil {
		return types.ReleaseCriteriaUpdate{}, err
	}
	return u, nil
}

// CheckUpdate verifies every value of u lies within [0,100].
func CheckUpdate(u types.ReleaseCriteriaUpdate) error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{FieldMinPassRate, u.MinPassRate},
		{FieldMinAvgOverallScore, u.MinAvgOverallScore},
		{FieldMaxErrorRate, u.MaxErrorRate},
		{FieldMinImprovementNoticeDelta, u.MinImprovementNoticeDelta},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 100 {
			return &ValidationError{Field: f.name, Message: "must be between 0 and 100"}
		}
	}
	return nil
}

// LoadCriteria reads a release criteria YAML file and validates it against
// the embedded criteria schema.
func LoadCriteria(path string) (types.ReleaseCriteria, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.ReleaseCriteria{}, err
	}
	return ParseCriteria(raw)
}

// ParseCriteria decodes and validates a release criteria YAML document.
func ParseCriteria(raw []byte) (types.ReleaseCriteria, error) {
	var doc map[string]any
	if err := goyaml.Unmarshal(raw, &doc); err != nil {
		return types.ReleaseCriteria{}, fmt.Errorf("parse criteria: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	violations, err := schema.Validate(schema.ReleaseCriteria, doc)
	if err != nil {
		return types.ReleaseCriteria{}, err
	}
	if len(violations) > 0 {
		return types.ReleaseCriteria{}, &ValidationError{Field: "criteria", Message: strings.Join(violations, "; ")}
	}
	var c types.ReleaseCriteria
	if err := goyaml.Unmarshal(raw, &c); err != nil {
		return types.ReleaseCriteria{}, fmt.Errorf("decode criteria: %w", err)
	}
	return c, nil
}

// DefaultCriteria is the criteria scaffolded by `evalstudio init`.
func DefaultCriteria() types.ReleaseCriteria {
	return types.ReleaseCriteria{
		MinPassRate:               80,
		MinAvgOverallScore:        75,
		MaxErrorRate:              5,
		MinImprovementNoticeDelta: 2,
	}
}
