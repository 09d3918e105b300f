package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gwi.com/quiz-rag/internal/store"
)

const maxOptions = 4

var (
	optionLabelRe = regexp.MustCompile(`^\(?([A-Da-d])\s*[\)\.:]\s*`)
	bareLetterRe  = regexp.MustCompile(`^\(?([A-Da-d])\)?\.?$`)
)

// parseQuestionArray extracts a JSON array of objects from raw model output.
// It tries the whole text first, then every balanced [...] span in order.
func parseQuestionArray(raw string) ([]map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if items, ok := decodeItems(raw); ok {
		return items, nil
	}
	for start := strings.IndexByte(raw, '['); start >= 0; {
		if end := matchingBracket(raw, start); end > start {
			if items, ok := decodeItems(raw[start : end+1]); ok {
				return items, nil
			}
		}
		next := strings.IndexByte(raw[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, ErrModelOutputInvalid
}

func decodeItems(s string) ([]map[string]any, bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		return nil, false
	}
	items := make([]map[string]any, 0, len(elems))
	for _, e := range elems {
		var m map[string]any
		if err := json.Unmarshal(e, &m); err != nil || m == nil {
			continue
		}
		items = append(items, m)
	}
	if len(elems) > 0 && len(items) == 0 {
		return nil, false // e.g. a "[1]" footnote before the real array
	}
	return items, true
}

// matchingBracket returns the index of the ']' closing s[start], skipping
// brackets inside JSON strings, or -1.
func matchingBracket(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// candidate is a validated question before it gets an id.
type candidate struct {
	Type       store.QuestionType
	Text       string
	Options    []string
	Answer     string
	ChunkIndex int
}

type pooledItem struct {
	chunkIndex int
	fields     map[string]any
}

// validateQuestions keeps well-formed items in encounter order, accepting at
// most nMCQ multiple choice and nShort short answer questions.
func validateQuestions(items []pooledItem, nMCQ, nShort int) []candidate {
	var out []candidate
	mcq, short := 0, 0
	for _, item := range items {
		if mcq >= nMCQ && short >= nShort {
			break
		}
		typ := strings.ToLower(stringField(item.fields, "type"))
		text := stringField(item.fields, "question")
		if text == "" {
			text = stringField(item.fields, "question_text")
		}
		if text == "" {
			continue
		}
		switch store.QuestionType(typ) {
		case store.QuestionMCQ:
			if mcq >= nMCQ {
				continue
			}
			options, answer, ok := normalizeMCQ(item.fields["options"], item.fields["answer"])
			if !ok {
				continue
			}
			out = append(out, candidate{Type: store.QuestionMCQ, Text: text, Options: options, Answer: answer, ChunkIndex: item.chunkIndex})
			mcq++
		case store.QuestionShort:
			if short >= nShort {
				continue
			}
			answer := scalarString(item.fields["answer"])
			if answer == "" {
				continue
			}
			out = append(out, candidate{Type: store.QuestionShort, Text: text, Answer: answer, ChunkIndex: item.chunkIndex})
			short++
		}
	}
	return out
}

// normalizeMCQ labels options A) to D) by position and resolves the answer
// to the exact text of one option, defaulting to the first.
func normalizeMCQ(rawOptions, rawAnswer any) ([]string, string, bool) {
	list, ok := rawOptions.([]any)
	if !ok {
		return nil, "", false
	}
	// blanks keep their slot so labels can be checked against position
	var given []string
	filled := 0
	for _, o := range list {
		s := scalarString(o)
		given = append(given, s)
		if s != "" {
			filled++
		}
		if filled == maxOptions {
			break
		}
	}
	var originals, bodies []string
	for i, body := range optionBodies(given) {
		if body == "" {
			continue
		}
		originals = append(originals, given[i])
		bodies = append(bodies, body)
	}
	if len(bodies) < 2 {
		return nil, "", false
	}
	labeled := make([]string, len(bodies))
	for i, body := range bodies {
		labeled[i] = fmt.Sprintf("%c) %s", 'A'+i, body)
	}
	return labeled, labeled[answerIndex(rawAnswer, labeled, originals, bodies)], true
}

// optionBodies strips existing labels only when every option carries the
// label of its own position. Otherwise options are kept whole, so text
// such as "D. H. Lawrence" is not mistaken for a label.
func optionBodies(options []string) []string {
	bodies := make([]string, len(options))
	for i, o := range options {
		if o == "" {
			continue
		}
		m := optionLabelRe.FindStringSubmatchIndex(o)
		if m == nil || strings.ToUpper(o[m[2]:m[3]]) != string(rune('A'+i)) {
			return slices.Clone(options)
		}
		bodies[i] = strings.TrimSpace(o[m[1]:])
	}
	return bodies
}

// answerIndex matches the answer against option text. Numbers are compared
// as text too: a bare option number is ambiguous between 0 and 1 based
// counting, so it is never read as a position.
func answerIndex(rawAnswer any, labeled, originals, bodies []string) int {
	answer := normalize(scalarString(rawAnswer))
	if answer == "" {
		return 0
	}
	for _, set := range [][]string{labeled, originals, bodies} {
		for i, s := range set {
			if normalize(s) == answer {
				return i
			}
		}
	}
	if m := bareLetterRe.FindStringSubmatch(answer); m != nil {
		if i := int(strings.ToUpper(m[1])[0] - 'A'); i < len(labeled) {
			return i
		}
	}
	if m := optionLabelRe.FindStringSubmatch(answer); m != nil {
		body := normalize(optionLabelRe.ReplaceAllString(answer, ""))
		for i, s := range bodies {
			if normalize(s) == body {
				return i
			}
		}
	}
	return 0
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// scalarString renders JSON scalars as text; other values yield "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
