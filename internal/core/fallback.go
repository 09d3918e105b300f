package core

import (
	"fmt"
	"regexp"
	"strings"

	"gwi.com/quiz-rag/internal/store"
)

const blank = "_____"

var (
	keywordRe    = regexp.MustCompile(`\b[A-Z][A-Za-z]{2,}\b`)
	sentenceEnd  = regexp.MustCompile(`[.!?]+\s+`)
	maxClozeRune = 240

	stopwords = map[string]struct{}{
		"The": {}, "This": {}, "That": {}, "These": {}, "Those": {}, "There": {}, "Then": {},
		"When": {}, "What": {}, "Which": {}, "Where": {}, "Who": {}, "Why": {}, "How": {},
		"And": {}, "But": {}, "For": {}, "With": {}, "From": {}, "Into": {}, "Also": {},
		"Our": {}, "Your": {}, "Their": {}, "They": {}, "His": {}, "Her": {}, "Its": {},
		"However": {}, "Because": {}, "After": {}, "Before": {}, "While": {}, "Some": {},
		"Many": {}, "Most": {}, "Each": {}, "Every": {}, "All": {}, "Any": {}, "Not": {},
		"Chapter": {}, "Section": {}, "Figure": {}, "Table": {}, "Page": {},
	}

	genericDistractors = []string{"None of the above", "All of the above", "Not mentioned in the material"}
)

// extractKeywords collects distinct capitalized terms in order of appearance.
func extractKeywords(chunks []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, c := range chunks {
		for _, w := range keywordRe.FindAllString(c, -1) {
			if _, stop := stopwords[w]; stop {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func splitSentences(chunks []string) []string {
	var out []string
	for _, c := range chunks {
		for _, s := range sentenceEnd.Split(c, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// synthesizer builds deterministic questions from keywords when the model
// yields too little.
type synthesizer struct {
	keywords  []string
	sentences []string
}

func newSynthesizer(chunks []string) *synthesizer {
	return &synthesizer{keywords: extractKeywords(chunks), sentences: splitSentences(chunks)}
}

// cloze returns the first sentence mentioning kw as a whole word, with that
// occurrence blanked out.
func (s *synthesizer) cloze(kw string) string {
	wordRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
	for _, sent := range s.sentences {
		loc := wordRe.FindStringIndex(sent)
		if loc == nil {
			continue
		}
		c := sent[:loc[0]] + blank + sent[loc[1]:]
		if r := []rune(c); len(r) > maxClozeRune {
			c = string(r[:maxClozeRune]) + "..."
		}
		return c
	}
	return ""
}

// mcq builds the i-th fallback multiple choice question. The correct option
// rotates through positions A to D.
func (s *synthesizer) mcq(i int) candidate {
	if len(s.keywords) == 0 {
		options := []string{"A) Acknowledged", "B) Skip", "C) Unsure", "D) Not applicable"}
		return candidate{
			Type:       store.QuestionMCQ,
			Text:       fmt.Sprintf("Placeholder question %d: no study content could be extracted yet. Choose \"Acknowledged\" to continue.", i+1),
			Options:    options,
			Answer:     options[0],
			ChunkIndex: -1,
		}
	}

	kw := s.keywords[i%len(s.keywords)]
	var distractors []string
	for j := 1; j < len(s.keywords) && len(distractors) < maxOptions-1; j++ {
		distractors = append(distractors, s.keywords[(i+j)%len(s.keywords)])
	}
	for _, g := range genericDistractors {
		if len(distractors) == maxOptions-1 {
			break
		}
		distractors = append(distractors, g)
	}

	correct := i % maxOptions
	bodies := make([]string, 0, maxOptions)
	bodies = append(bodies, distractors[:correct]...)
	bodies = append(bodies, kw)
	bodies = append(bodies, distractors[correct:]...)
	options := make([]string, len(bodies))
	for j, b := range bodies {
		options[j] = fmt.Sprintf("%c) %s", 'A'+j, b)
	}

	text := "Which of the following terms appears in the study material?"
	if c := s.cloze(kw); c != "" {
		text = fmt.Sprintf("Which term completes the sentence: \"%s\"", c)
	}
	return candidate{Type: store.QuestionMCQ, Text: text, Options: options, Answer: options[correct], ChunkIndex: -1}
}

// short builds the i-th fallback short answer question. offset shifts the
// keyword so it differs from the multiple choice ones where possible.
func (s *synthesizer) short(i, offset int) candidate {
	if len(s.keywords) == 0 {
		return candidate{
			Type:       store.QuestionShort,
			Text:       fmt.Sprintf("Placeholder question %d: no study content could be extracted yet. Type \"ok\" to continue.", i+1),
			Answer:     "ok",
			ChunkIndex: -1,
		}
	}
	kw := s.keywords[(i+offset)%len(s.keywords)]
	text := fmt.Sprintf("Name a key term discussed in the study material that starts with %q.", kw[:1])
	if c := s.cloze(kw); c != "" {
		text = fmt.Sprintf("Fill in the blank: \"%s\"", c)
	}
	return candidate{Type: store.QuestionShort, Text: text, Answer: kw, ChunkIndex: -1}
}
