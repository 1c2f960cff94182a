package suggest

import (
	"encoding/json"
	"errors"
	"strings"
)

func extractText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

func normalizeItems(items []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lower := strings.ToLower(item)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, item)
	}
	return result
}

func parsePayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

// extractJSONFragment strips markdown fences and any prose around the JSON body.
func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
