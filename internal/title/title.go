// Package title derives short conversation labels from the first user
// message. Synthesis is pure and deterministic: rules are evaluated in order
// and the first match wins.
package title

import (
	"regexp"
	"strings"

	"github.com/escuelachat/chat-api/internal/domain"
)

const (
	shortMessageMax  = 10
	questionPartMax  = 60
	starterSliceMax  = 50
	shortWordCount   = 8
	topicKeyword     = "escuela sab"
	topicLabel       = "Consulta sobre Escuela Sabática"
	lessonLabelStart = "Pregunta sobre "
)

var lessonPattern = regexp.MustCompile(`(?i)lecci[oó]n\s*\d+`)

// starters are the interrogative lead words that trigger the 50-rune cut.
var starters = []string{
	"qué", "que",
	"cómo", "como",
	"cuál", "cual",
	"cuándo", "cuando",
	"dónde", "donde",
	"por qué", "por que",
}

// Synthesize builds a conversation title from the first user message.
func Synthesize(message string) string {
	clean := strings.TrimSpace(message)
	runes := []rune(clean)

	if len(runes) <= shortMessageMax {
		if clean == "" {
			return domain.PlaceholderTitle
		}
		return clean
	}

	if idx := strings.Index(clean, "?"); idx >= 0 {
		questionPart := clean[:idx+1]
		if len([]rune(questionPart)) <= questionPartMax {
			return questionPart
		}
	}

	lower := strings.ToLower(clean)

	if match := lessonPattern.FindString(clean); match != "" {
		return lessonLabelStart + match
	}

	if strings.Contains(lower, topicKeyword) {
		return topicLabel
	}

	for _, start := range starters {
		if strings.HasPrefix(lower, start) {
			if len(runes) > starterSliceMax {
				return string(runes[:starterSliceMax]) + "..."
			}
			return clean
		}
	}

	words := strings.Fields(clean)
	if len(words) <= shortWordCount {
		return clean
	}

	return strings.Join(words[:shortWordCount], " ") + "..."
}
