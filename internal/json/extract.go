// Package json provides JSON extraction utilities for parsing LLM responses.
//
// LLMs often return JSON embedded in text, wrapped in markdown code blocks
// or with additional commentary. This package recovers the JSON from such
// responses.
package json

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrNotAList is returned when a response holds no list of strings.
var ErrNotAList = errors.New("response is not a list of strings")

// ExtractStringList recovers a list of strings from an LLM response.
// Accepted shapes, tried in order:
// 1. A JSON array of strings, optionally inside a markdown code block
// 2. A JSON object with a "flows" array
// 3. A JSON array embedded in text - first '[' to last ']'
// 4. The same embedded array after repairing quotes and trailing commas
func ExtractStringList(response string) ([]string, error) {
	body := stripMarkdownCodeBlocks(response)

	var list []string
	if err := json.Unmarshal([]byte(body), &list); err == nil && list != nil {
		return list, nil
	}

	var wrapped struct {
		Flows []string `json:"flows"`
	}
	if err := json.Unmarshal([]byte(body), &wrapped); err == nil && wrapped.Flows != nil {
		return wrapped.Flows, nil
	}

	start := strings.Index(body, "[")
	end := strings.LastIndex(body, "]")
	if start != -1 && end > start {
		candidate := body[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &list); err == nil {
			return list, nil
		}
		if repaired, err := jsonrepair.JSONRepair(candidate); err == nil {
			if err := json.Unmarshal([]byte(repaired), &list); err == nil && list != nil {
				return list, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrNotAList, preview(response))
}

// stripMarkdownCodeBlocks removes markdown code block markers from a response.
// Handles patterns like ```json\n...\n``` or ```\n...\n```
func stripMarkdownCodeBlocks(response string) string {
	trimmed := strings.TrimSpace(response)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```json"))
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	if strings.HasSuffix(trimmed, "```") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))
	}
	return trimmed
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}
