package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// candidateSchema validates the engine's JSON output before it is trusted.
// Difficulty is assigned by the pipeline, so only the generated fields are
// required here.
const candidateSchema = `{
	"type": "object",
	"required": ["question", "answer", "evidence"],
	"properties": {
		"question": {"type": "string", "minLength": 1},
		"answer": {},
		"evidence": {
			"type": "array",
			"items": {"type": ["string", "number"]},
			"minItems": 1
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("candidate.json", candidateSchema)

// ErrUnparsableResponse is returned when neither the JSON path nor the
// fallback extraction recovers a candidate from the engine output.
var ErrUnparsableResponse = errors.New("engine response could not be parsed")

// answerPrefix is the normalization applied to answers: templates require
// answers to start with this marker, which is stripped for storage.
const answerPrefix = "The answer is:"

var (
	codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	questionRe  = regexp.MustCompile(`(?im)^\s*"?question"?\s*[:：]\s*"?(.+?)"?,?\s*$`)
	answerRe    = regexp.MustCompile(`(?im)^\s*"?answer"?\s*[:：]\s*"?(.+?)"?,?\s*$`)
	evidenceRe  = regexp.MustCompile(`(?im)^\s*[-*]?\s*"?evidence"?\s*[:：]?\s*"?(.+?)"?,?\s*$`)
)

// ParseCandidates extracts candidates from a raw engine response. Strict
// JSON (object or array, optionally inside a markdown fence) is tried first
// and checked against the candidate schema; when that fails, a line-based
// fallback extraction recovers question/answer/evidence fields, mirroring
// how free-form engine output degrades in practice.
func ParseCandidates(response string) ([]RawCandidate, error) {
	trimmed := strings.TrimSpace(response)
	if m := codeFenceRe.FindStringSubmatch(trimmed); m != nil {
		trimmed = m[1]
	}

	if candidates, err := parseJSON(trimmed); err == nil {
		return candidates, nil
	}

	if candidate, ok := parseFallback(trimmed); ok {
		return []RawCandidate{candidate}, nil
	}
	return nil, ErrUnparsableResponse
}

func parseJSON(text string) ([]RawCandidate, error) {
	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, err
	}

	var objects []any
	switch v := raw.(type) {
	case []any:
		objects = v
	default:
		objects = []any{v}
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("empty candidate list")
	}

	candidates := make([]RawCandidate, 0, len(objects))
	for _, obj := range objects {
		if err := compiledSchema.Validate(obj); err != nil {
			return nil, fmt.Errorf("candidate schema: %w", err)
		}
		m := obj.(map[string]any)
		candidates = append(candidates, RawCandidate{
			Question: strings.TrimSpace(fmt.Sprint(m["question"])),
			Answer:   NormalizeAnswer(fmt.Sprint(m["answer"])),
			Evidence: toStrings(m["evidence"]),
		})
	}
	return candidates, nil
}

func toStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return []string{strings.TrimSpace(fmt.Sprint(v))}
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, strings.TrimSpace(fmt.Sprint(item)))
	}
	return out
}

func parseFallback(text string) (RawCandidate, bool) {
	var c RawCandidate
	if m := questionRe.FindStringSubmatch(text); m != nil {
		c.Question = strings.TrimSpace(m[1])
	}
	if m := answerRe.FindStringSubmatch(text); m != nil {
		c.Answer = NormalizeAnswer(m[1])
	}
	for _, m := range evidenceRe.FindAllStringSubmatch(text, -1) {
		if ev := strings.TrimSpace(m[1]); ev != "" {
			c.Evidence = append(c.Evidence, ev)
		}
	}
	if c.Question == "" || c.Answer == "" {
		return RawCandidate{}, false
	}
	return c, true
}

// NormalizeAnswer strips the required "The answer is:" prefix and
// surrounding whitespace from an answer string.
func NormalizeAnswer(answer string) string {
	answer = strings.TrimSpace(answer)
	if strings.HasPrefix(strings.ToLower(answer), strings.ToLower(answerPrefix)) {
		answer = strings.TrimSpace(answer[len(answerPrefix):])
	}
	return answer
}
