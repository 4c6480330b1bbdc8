// Package utils holds lenient JSON parsing for LLM output, which routinely
// arrives with markdown fences, single quotes, trailing commas or unquoted
// keys.
package utils

import (
	"encoding/json"
	"fmt"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// RepairJSON fixes common LLM JSON defects (missing quotes, trailing commas,
// code fences) and returns a parseable string.
func RepairJSON(malformed string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformed)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %w", err)
	}
	return repaired, nil
}

// SmartParse unmarshals input into out, trying progressively more lenient
// strategies: standard JSON, then repaired JSON, then Hjson.
func SmartParse(input string, out any) error {
	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	if repaired, err := RepairJSON(input); err == nil {
		if err := json.Unmarshal([]byte(repaired), out); err == nil {
			return nil
		}
	}

	if err := hjson.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	return fmt.Errorf("all parsing strategies failed for input of %d bytes", len(input))
}
