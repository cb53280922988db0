package tape

import (
	"fmt"

	"github.com/tapedeck-dev/tapedeck/internal/tapeerr"
)

// Validate checks schema-level invariants that json.Unmarshal alone
// doesn't enforce: version bounds, required fields, and enum values. It
// never mutates t.
func Validate(t *Tape) error {
	if t.SchemaVersion < 1 || t.SchemaVersion > CurrentSchemaVersion {
		return tapeerr.New(tapeerr.SchemaError,
			fmt.Sprintf("unsupported schemaVersion %d (this build supports up to %d)", t.SchemaVersion, CurrentSchemaVersion))
	}
	if t.Meta.Program == "" {
		return tapeerr.New(tapeerr.SchemaError, "meta.program is required")
	}
	if t.Meta.Latency != nil {
		if r := t.Meta.Latency.Range; r != nil && r[0] > r[1] {
			return tapeerr.New(tapeerr.SchemaError,
				fmt.Sprintf("meta.latency range [%d, %d] is inverted", r[0], r[1]))
		}
		if s := t.Meta.Latency.Scalar; s != nil && *s < 0 {
			return tapeerr.New(tapeerr.SchemaError, "meta.latency must not be negative")
		}
	}
	if t.Meta.ErrorRate < 0 || t.Meta.ErrorRate > 1 {
		return tapeerr.New(tapeerr.SchemaError, "meta.errorRate must be between 0 and 1")
	}
	if len(t.Exchanges) == 0 {
		return tapeerr.New(tapeerr.SchemaError, "exchanges must be non-empty")
	}

	for i, ex := range t.Exchanges {
		if err := validateExchange(i, ex); err != nil {
			return err
		}
	}
	return nil
}

func validateExchange(i int, ex Exchange) error {
	switch ex.Input.Kind {
	case "line", "raw":
	default:
		return tapeerr.New(tapeerr.SchemaError,
			fmt.Sprintf("exchanges[%d].input.kind must be \"line\" or \"raw\", got %q", i, ex.Input.Kind))
	}
	if ex.Input.Kind == "line" && ex.Input.BytesB64 != "" {
		return tapeerr.New(tapeerr.SchemaError,
			fmt.Sprintf("exchanges[%d].input.bytesB64 is only valid for kind \"raw\"", i))
	}
	if ex.Input.Kind == "raw" && ex.Input.Text != "" {
		return tapeerr.New(tapeerr.SchemaError,
			fmt.Sprintf("exchanges[%d].input.text is only valid for kind \"line\"", i))
	}
	for j, c := range ex.Output.Chunks {
		if c.DelayMs < 0 {
			return tapeerr.New(tapeerr.SchemaError,
				fmt.Sprintf("exchanges[%d].output.chunks[%d].delayMs must not be negative", i, j))
		}
	}
	if ex.DurMs < 0 {
		return tapeerr.New(tapeerr.SchemaError, fmt.Sprintf("exchanges[%d].durMs must not be negative", i))
	}
	return nil
}
