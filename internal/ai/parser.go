package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes DeepSeek R1 reasoning tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseDecision parses the model response into a single decision.
// Handles: JSON object, JSON array (first element), markdown code fences,
// and JSON embedded in prose. An empty answer means HOLD.
func ParseDecision(text string) (*Decision, error) {
	cleaned := StripThinkTags(text)

	// Remove markdown code fences
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || cleaned == "[]" || cleaned == "{}" {
		return &Decision{Action: ActionHold}, nil
	}

	if d, ok := decodeDecision(cleaned); ok {
		return d, nil
	}

	// Try extracting a single JSON object
	jsonStart := strings.Index(cleaned, "{")
	jsonEnd := strings.LastIndex(cleaned, "}")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		if d, ok := decodeDecision(cleaned[jsonStart : jsonEnd+1]); ok {
			return d, nil
		}
	}

	// Try extracting an array
	jsonStart = strings.Index(cleaned, "[")
	jsonEnd = strings.LastIndex(cleaned, "]")
	if jsonStart >= 0 && jsonEnd > jsonStart {
		if d, ok := decodeDecision(cleaned[jsonStart : jsonEnd+1]); ok {
			return d, nil
		}
	}

	return nil, fmt.Errorf("failed to parse AI response as JSON: %.200s", cleaned)
}

func decodeDecision(s string) (*Decision, bool) {
	var single Decision
	if err := json.Unmarshal([]byte(s), &single); err == nil {
		return normalize(&single), true
	}
	var list []Decision
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		if len(list) == 0 {
			return &Decision{Action: ActionHold}, true
		}
		return normalize(&list[0]), true
	}
	return nil, false
}

func normalize(d *Decision) *Decision {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	switch d.Action {
	case "BUY":
		d.Action = ActionLong
	case "SELL", "CLOSE":
		d.Action = ActionExit
	case ActionLong, ActionShort, ActionExit, ActionHold:
	default:
		d.Action = ActionHold
	}
	return d
}
