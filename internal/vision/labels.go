package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"wikiseek/internal/models"
)

const systemPrompt = "You label photographs so the main subject can be looked up in an encyclopedia."

const labelPrompt = `Strictly respond with a JSON object {"labels":[{"label":"","confidence":0.0}]}. ` +
	`List at most 5 candidate labels for the main subject of the image, each a short encyclopedia topic ` +
	`(a common noun or proper name, no sentences). Confidence is a number between 0 and 1. ` +
	`If the image shows nothing identifiable respond with {"labels":[]}.`

type labelEnvelope struct {
	Labels []models.ClassificationLabel `json:"labels"`
}

// parseLabels decodes a model reply into labels.
func parseLabels(content string) ([]models.ClassificationLabel, error) {
	jsonStr := extractJSON(content)
	if jsonStr == "" {
		return nil, fmt.Errorf("%w: empty model reply", models.ErrClassification)
	}
	var env labelEnvelope
	if err := json.Unmarshal([]byte(jsonStr), &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal labels json: %v", models.ErrClassification, err)
	}
	return env.Labels, nil
}

// extractJSON removes markdown code block formatting if present and extracts the JSON
func extractJSON(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		// skip the fence and the optional language tag
		start := 3
		if newlineIdx := strings.Index(content[start:], "\n"); newlineIdx != -1 {
			start += newlineIdx + 1
		}
		if endIdx := strings.Index(content[start:], "```"); endIdx != -1 {
			content = content[start : start+endIdx]
		} else {
			content = content[start:]
		}
	}

	content = strings.TrimSpace(content)

	if startIdx := strings.Index(content, "{"); startIdx != -1 {
		if endIdx := strings.LastIndex(content, "}"); endIdx != -1 && endIdx > startIdx {
			content = content[startIdx : endIdx+1]
		}
	}

	return strings.TrimSpace(content)
}
