package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"waypoint/api/internal/store"
)

// ErrEmptyResponse marks a model reply that parsed cleanly but contained no
// segments. Callers translate it into a client error rather than a server one.
var ErrEmptyResponse = errors.New("model response contained no segments")

type generatedSegment struct {
	UnitNumber int      `json:"unit_number"`
	Title      string   `json:"title"`
	Milestone  *string  `json:"milestone"`
	Goals      []string `json:"goals"`
	References []string `json:"references"`
}

// StripCodeFence removes a Markdown code-fence wrapper, with or without a
// language tag, from around a model reply. Unfenced input passes through
// unchanged.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop the language tag line (e.g. "json")
		firstLine := strings.TrimSpace(s[:i])
		if firstLine == "" || !strings.ContainsAny(firstLine, " \t{[") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseSegmentResponse turns raw model output into candidate segments. It
// strips any code fence, requires a JSON array, and rejects an empty one.
// Elements without an explicit unit_number are numbered by position.
func ParseSegmentResponse(raw string) ([]store.NewSegment, error) {
	cleaned := StripCodeFence(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("parse model response: empty response text")
	}

	var items []generatedSegment
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyResponse
	}

	segments := make([]store.NewSegment, 0, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.Title) == "" {
			return nil, fmt.Errorf("parse model response: segment %d has no title", i+1)
		}
		unit := item.UnitNumber
		if unit == 0 {
			unit = i + 1
		}
		segments = append(segments, store.NewSegment{
			UnitNumber: unit,
			Title:      strings.TrimSpace(item.Title),
			Milestone:  item.Milestone,
			Goals:      item.Goals,
			References: item.References,
		})
	}
	return segments, nil
}
