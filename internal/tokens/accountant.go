// Package tokens implements the token accountant (spec §4.E): heuristic
// input/output token counts per model family, used for context-window
// overflow detection (internal/translate) and usage reporting
// (internal/respond). None of this is an exact tokenizer — the upstream
// never exposes one — so every estimate is a documented approximation.
package tokens

import (
	"strings"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
)

// Family dispatches which approximation CountText uses.
type Family string

const (
	FamilyGPT    Family = "gpt"
	FamilyClaude Family = "claude"
	FamilyOther  Family = "other"
)

// claudeCorrectionFactor compensates for Claude's tokenizer running
// consistently denser than the plain character-ratio estimate used for
// "other" families (spec §4.E: "empirical correction factor for
// Claude-family models").
const claudeCorrectionFactor = 1.10

// charsPerToken is the character-ratio approximation's baseline: English
// prose averages roughly four characters per BPE token.
const charsPerToken = 4.0

// CountText estimates the token count of a single string for family.
// applyCorrection, when true, applies the Claude correction factor; it has
// no effect for other families. Never returns less than 1 for non-empty
// input (spec §4.E).
func CountText(text string, family Family, applyCorrection bool) int {
	if text == "" {
		return 0
	}

	var estimate float64
	switch family {
	case FamilyGPT:
		estimate = gptBPEApprox(text)
	default:
		estimate = float64(utf8RuneCount(text)) / charsPerToken
		if family == FamilyClaude && applyCorrection {
			estimate *= claudeCorrectionFactor
		}
	}

	n := int(estimate + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

// gptBPEApprox mimics the coarse heuristic OpenAI's own docs suggest in the
// absence of a real tokenizer: roughly 0.75 tokens per whitespace-delimited
// word, with a floor based on raw character count for token-dense text
// (code, CJK) where word-splitting underestimates badly.
func gptBPEApprox(text string) float64 {
	words := len(strings.Fields(text))
	byWords := float64(words) * 0.75
	byChars := float64(utf8RuneCount(text)) / charsPerToken
	if byChars > byWords {
		return byChars
	}
	return byWords
}

func utf8RuneCount(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// CountMessages sums CountText over every text block of every message, plus
// a small fixed per-message overhead (role framing the upstream itself
// charges for), the tool name and raw argument text of tool-use blocks and
// the text of tool-result blocks (each counted as text), and a fixed 256
// per image block.
func CountMessages(msgs []chatmodel.Message, family Family, applyCorrection bool) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		for _, b := range m.Content {
			switch b.Type {
			case chatmodel.BlockText:
				total += CountText(b.Text, family, applyCorrection)
			case chatmodel.BlockToolUse:
				total += CountText(b.ToolName, family, applyCorrection)
				total += CountText(b.ToolRawArgs, family, applyCorrection)
			case chatmodel.BlockToolResult:
				total += CountText(b.ToolResultText, family, applyCorrection)
			case chatmodel.BlockImage:
				// Fixed allowance: upstream image token cost is opaque and
				// not worth approximating per-pixel for a heuristic counter.
				total += 256
			}
		}
	}
	if total < 1 && hasNonEmptyContent(msgs) {
		total = 1
	}
	return total
}

func hasNonEmptyContent(msgs []chatmodel.Message) bool {
	for _, m := range msgs {
		if strings.TrimSpace(m.Text()) != "" {
			return true
		}
	}
	return false
}
