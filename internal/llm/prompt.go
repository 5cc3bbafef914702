package llm

import (
	"fmt"
	"strings"
)

const systemInstructions = `You are a planning assistant that produces learning timelines.
Respond with a JSON array only. Each element must be an object with the keys
"unit_number" (integer starting at 1, consecutive, no gaps), "title" (string),
"goals" (array of 1 to 10 strings), "references" (array of 0 to 10 strings)
and optionally "milestone" (string). Do not wrap the JSON in prose.`

// BuildPrompt renders the user half of the generation request. unitCount is
// the timeline's duration; every unit number from 1 to unitCount must appear
// exactly once in the response.
func BuildPrompt(title, description, timeUnit string, unitCount int, requirements string) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %s plan titled %q", strings.ToLower(timeUnit), title)
	if description != "" {
		fmt.Fprintf(&b, " described as %q", description)
	}
	fmt.Fprintf(&b, ", split into exactly %d segments numbered 1 through %d.", unitCount, unitCount)
	if requirements != "" {
		fmt.Fprintf(&b, " Additional requirements: %s", requirements)
	}
	return systemInstructions, b.String()
}
