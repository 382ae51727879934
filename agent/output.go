package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keplerhq/kepler/insight"
)

// OutputKind selects which structured output schema an invocation expects.
type OutputKind string

const (
	// KindTopics expects {"topics":[{"name":...,"description":...}]}.
	KindTopics OutputKind = "topics"

	// KindItems expects {"items":[{"topic":...,"title":...,...}]}.
	KindItems OutputKind = "items"

	// KindVerdict expects {"approved":bool,"reasoning":string}.
	KindVerdict OutputKind = "verdict"
)

// Output is the parsed, validated result of a reasoning invocation. Exactly
// one variant is populated, matching the requested OutputKind.
type Output struct {
	Topics  *TopicsOutput
	Items   *ItemsOutput
	Verdict *VerdictOutput

	// Raw is the response text the variant was parsed from.
	Raw string
}

// TopicsOutput is the exploration stage's structured result.
type TopicsOutput struct {
	Topics []insight.Topic `json:"topics"`
}

// ItemsOutput is the generation stage's structured result.
type ItemsOutput struct {
	Items []insight.MetricItem `json:"items"`
}

// VerdictOutput is the judgment stage's structured result.
type VerdictOutput struct {
	Approved  bool   `json:"approved"`
	Reasoning string `json:"reasoning"`
}

// ParseOutput validates raw model text against the requested schema.
//
// This is the parse-or-reject boundary: malformed or schema-mismatched
// output returns an error here so that no dynamically-typed blob travels
// further into the pipeline. Responses wrapped in prose or markdown fences
// are tolerated as long as they contain exactly one JSON object.
func ParseOutput(kind OutputKind, raw string) (Output, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return Output{}, fmt.Errorf("no JSON object found in response")
	}

	out := Output{Raw: raw}
	switch kind {
	case KindTopics:
		var topics TopicsOutput
		if err := decodeStrict(payload, &topics); err != nil {
			return Output{}, fmt.Errorf("invalid topics output: %w", err)
		}
		for i, topic := range topics.Topics {
			if topic.Name == "" {
				return Output{}, fmt.Errorf("invalid topics output: topic %d has no name", i)
			}
		}
		out.Topics = &topics

	case KindItems:
		var items ItemsOutput
		if err := decodeStrict(payload, &items); err != nil {
			return Output{}, fmt.Errorf("invalid items output: %w", err)
		}
		for i, item := range items.Items {
			if item.Title == "" {
				return Output{}, fmt.Errorf("invalid items output: item %d has no title", i)
			}
		}
		out.Items = &items

	case KindVerdict:
		var verdict VerdictOutput
		if err := decodeStrict(payload, &verdict); err != nil {
			return Output{}, fmt.Errorf("invalid verdict output: %w", err)
		}
		out.Verdict = &verdict

	default:
		return Output{}, fmt.Errorf("unknown output kind: %q", kind)
	}

	return out, nil
}

// SchemaPrompt returns output-format instructions appended to prompts for
// providers without native structured output enforcement.
func SchemaPrompt(kind OutputKind) string {
	switch kind {
	case KindTopics:
		return `Respond ONLY with valid JSON of the form:
{"topics":[{"name":"Auth","description":"Authentication and session handling"}]}`
	case KindItems:
		return `Respond ONLY with valid JSON of the form:
{"items":[{"topic":"Auth","title":"Login failure rate","description":"...","query":"..."}]}`
	case KindVerdict:
		return `Respond ONLY with valid JSON of the form:
{"approved":true,"reasoning":"..."}`
	default:
		return ""
	}
}

func decodeStrict(payload string, v interface{}) error {
	return json.Unmarshal([]byte(payload), v)
}

// extractJSONObject returns the outermost JSON object embedded in text, or
// an empty string when none exists.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return ""
	}
	return text[start : end+1]
}
