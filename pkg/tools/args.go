package tools

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeArgs decodes raw tool arguments into a typed argument struct.
// Input is weakly typed because model-produced JSON renders numbers and
// booleans loosely; unknown fields are ignored rather than rejected.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}
