package common

import (
	"time"

	"github.com/invopop/jsonschema"
)

// Duration wraps time.Duration so config fields can round-trip through
// YAML/JSON as human strings ("30s", "5m") instead of raw nanosecond
// integers.
type Duration struct {
	Duration time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// JSONSchema describes Duration as a human-readable string for config
// schema generation, rather than the raw int64 nanosecond count that
// would otherwise be inferred from the struct's field.
func (d Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Title:       "Duration",
		Description: "Duration expressed in units, e.g. \"30s\", \"5m\", \"1h30m\"",
		Examples:    []any{"1m", "300ms", "1h30m"},
	}
}
