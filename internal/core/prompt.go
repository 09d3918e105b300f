package core

import (
	"fmt"
	"strings"
)

const sentenceCutFloor = 0.8

// charBudget converts a token budget into a character budget.
func charBudget(tokenBudget int, tokensPerChar float64) int {
	if tokenBudget <= 0 || tokensPerChar <= 0 {
		return 0
	}
	return int(float64(tokenBudget) / tokensPerChar)
}

// truncateToBudget keeps at most budget characters. When the cut lands
// mid-text it backs off to the last sentence end past 80% of the budget,
// otherwise it cuts hard. A budget <= 0 disables truncation.
func truncateToBudget(text string, budget int) string {
	runes := []rune(text)
	if budget <= 0 || len(runes) <= budget {
		return text
	}
	cut := runes[:budget]
	floor := int(float64(budget) * sentenceCutFloor)
	for i := len(cut) - 1; i >= floor; i-- {
		switch cut[i] {
		case '.', '!', '?':
			return string(cut[:i+1])
		}
	}
	return string(cut)
}

// buildPrompt asks for exactly nMCQ multiple choice and nShort short answer
// questions from text, as a bare JSON array.
func buildPrompt(text string, nMCQ, nShort int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create %d multiple-choice questions and %d short-answer questions based only on the study material below.\n", nMCQ, nShort)
	b.WriteString("Rules:\n")
	b.WriteString("- Respond with a JSON array and nothing else.\n")
	b.WriteString("- Multiple-choice items have exactly 4 options labelled \"A) \" to \"D) \" and the answer repeats the full correct option text, never an option number.\n")
	b.WriteString("- Short-answer items have a concise answer of a few words.\n")
	b.WriteString("- Do not invent facts that are not in the material.\n\n")
	b.WriteString("Item formats:\n")
	b.WriteString(`{"type":"mcq","question":"...","options":["A) ...","B) ...","C) ...","D) ..."],"answer":"B) ..."}`)
	b.WriteString("\n")
	b.WriteString(`{"type":"short","question":"...","answer":"..."}`)
	b.WriteString("\n\nStudy material:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}
