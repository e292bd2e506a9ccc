package toolkit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

var validate = validator.New()

// generateSchema reflects a JSON Schema from an argument struct. The
// schema is inlined (no $ref indirection) and closed to unknown
// properties so callers get an early error instead of a silently
// ignored argument.
func generateSchema(value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return reflector.Reflect(reflect.New(t).Interface())
}

// decodeArgs parses a tool-call argument payload into out and runs the
// struct's validate tags. Payloads arrive from an agent loop and are
// not always clean JSON, so UnmarshalFlexible does the parsing.
func decodeArgs(args string, out any) error {
	if err := UnmarshalFlexible(args, out); err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// UnmarshalFlexible unmarshals agent-produced JSON with fallbacks:
// standard JSON first, then a double-encoded JSON string, and finally
// a repair pass over malformed input.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}
