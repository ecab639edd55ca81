package llm

import (
	"fmt"
	"strings"
)

// GraphNodeTypes are the concept types graph extraction asks for.
var GraphNodeTypes = []string{"person", "organization", "project", "tool", "concept", "location", "event", "skill"}

// maxPromptContent bounds the source text placed in a single prompt.
const maxPromptContent = 12000

// GraphExtractionPrompt builds a strict JSON-only prompt for concept graph
// extraction. preamble is the twin's specialization preamble and may be empty.
func GraphExtractionPrompt(preamble, content string) string {
	if len(content) > maxPromptContent {
		content = content[:maxPromptContent]
	}
	var b strings.Builder
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, `TASK: Extract the key concepts and the relationships between them.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

NODE TYPES (ONLY these): %s

REQUIRED JSON STRUCTURE:
{
  "nodes": [{"name":"Kubernetes","type":"tool"}],
  "edges": [{"from":"Kubernetes","to":"Containers","type":"orchestrates"}]
}

VALIDATION (STRICT):
1. Both "nodes" and "edges" keys must be present (use [] when empty)
2. Each node has exactly: name, type
3. Each edge has exactly: from, to, type
4. Edge endpoints must be names listed in "nodes"
5. Edge types are short lowercase verbs or verb phrases
6. No extra fields, no null values, no trailing commas

TEXT:
%s

RESPOND WITH ONLY THE JSON OBJECT.`, strings.Join(GraphNodeTypes, "|"), content)
	return b.String()
}

// MemoryExtractionPrompt builds a strict JSON-only prompt that turns an
// interview transcript into candidate owner beliefs.
func MemoryExtractionPrompt(transcript string) string {
	if len(transcript) > maxPromptContent {
		transcript = transcript[len(transcript)-maxPromptContent:]
	}
	return fmt.Sprintf(`TASK: Extract durable beliefs the USER states about themselves.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

MEMORY TYPES (ONLY these 5):
- goal: something the user wants to achieve
- preference: something the user likes or prefers
- constraint: a limit the user works under
- boundary: something the user refuses to do or discuss
- intent: a concrete plan the user has committed to

RULES:
1. Only statements made by the user, never by the interviewer
2. Content is one short sentence in third person ("Prefers async communication")
3. Confidence 0.0-1.0 reflects how explicitly the user stated it
4. Return {"memories":[]} when nothing qualifies

REQUIRED JSON STRUCTURE:
{"memories":[{"type":"goal","content":"Wants to publish a book","confidence":0.8}]}

TRANSCRIPT:
%s

RESPOND WITH ONLY THE JSON OBJECT.`, transcript)
}
