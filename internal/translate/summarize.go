package translate

import (
	"fmt"
	"strings"

	"github.com/kirogateway/kiro-gateway/internal/chatmodel"
	"github.com/kirogateway/kiro-gateway/internal/gatewayerr"
	"github.com/kirogateway/kiro-gateway/internal/tokens"
)

// keepTurns is the number of most recent user+assistant turns preserved
// verbatim (spec §4.G).
const keepTurns = 4

// maxSummaryTokens caps the size of the synthesized summary block itself.
const maxSummaryTokens = 2000

// Summarize implements the history summarizer (spec §4.G): it preserves the
// system preamble (already folded into msgs[0] by the caller) and the most
// recent keepTurns user+assistant turns, replacing everything older with a
// compact bulleted abstract built without any model call. If the request
// still overflows budget after summarizing, it drops older preserved turns
// one at a time; if even the single most recent user message alone
// overflows, it returns a context_overflow error for the caller to surface
// as a 413.
func Summarize(msgs []chatmodel.Message, preamble string, family tokens.Family, budget int) ([]chatmodel.Message, error) {
	if len(msgs) == 0 {
		return msgs, nil
	}

	boundary := len(msgs) - keepTurns*2
	if boundary <= 0 {
		return shrinkToFit(msgs, family, budget)
	}

	older := stripFoldedPreamble(msgs[:boundary], preamble)
	recent := msgs[boundary:]

	summaryText := summarizeTurns(older)
	if preamble != "" {
		summaryText = fmt.Sprintf("<system>%s</system>\n\n%s", preamble, summaryText)
	}
	summaryMsg := chatmodel.Message{
		Role:    chatmodel.RoleUser,
		Content: []chatmodel.ContentBlock{{Type: chatmodel.BlockText, Text: summaryText}},
	}

	out := append([]chatmodel.Message{summaryMsg}, recent...)
	return shrinkToFit(out, family, budget)
}

// SummarizeEnvelope re-runs the history summarizer against an already
// translated envelope, for the retry coordinator's 413 context_overflow
// branch (spec §5 scheduling model: "one summarize-and-retry attempt per
// request"). It folds History and CurrentUserMessage back into a flat
// list, summarizes, and re-splits using the same convention TranslateX
// uses to build an envelope in the first place.
func SummarizeEnvelope(env chatmodel.Envelope, maxInputTokens int) (chatmodel.Envelope, error) {
	flat := append(append([]chatmodel.Message{}, env.History...), env.CurrentUserMessage)

	family := familyFor(env.ModelID)
	summarized, err := Summarize(flat, "", family, maxInputTokens)
	if err != nil {
		return chatmodel.Envelope{}, err
	}

	out := env
	out.CurrentUserMessage, out.History = splitCurrentMessage(summarized)
	return out, nil
}

// stripFoldedPreamble removes the "<system>...</system>\n\n" block
// foldSystemPreamble prepended onto the first message's leading text block,
// so that the deterministic abstract this package builds over older
// messages isn't polluted by the full preamble text (which Summarize
// preserves verbatim on the synthetic summary message instead).
func stripFoldedPreamble(msgs []chatmodel.Message, preamble string) []chatmodel.Message {
	if preamble == "" || len(msgs) == 0 {
		return msgs
	}
	labeled := fmt.Sprintf("<system>%s</system>\n\n", preamble)
	first := msgs[0]
	if len(first.Content) == 0 || first.Content[0].Type != chatmodel.BlockText || !strings.HasPrefix(first.Content[0].Text, labeled) {
		return msgs
	}
	out := make([]chatmodel.Message, len(msgs))
	copy(out, msgs)
	content := make([]chatmodel.ContentBlock, len(first.Content))
	copy(content, first.Content)
	content[0].Text = strings.TrimPrefix(content[0].Text, labeled)
	out[0] = chatmodel.Message{Role: first.Role, Content: content}
	return out
}

// shrinkToFit drops the oldest preserved message after the summary message
// at index 0 until the remainder fits budget. Once only the summary and the
// final message (the current turn) remain, it drops the summary; it never
// drops the current turn, and returns an error when that alone overflows.
func shrinkToFit(msgs []chatmodel.Message, family tokens.Family, budget int) ([]chatmodel.Message, error) {
	for tokens.CountMessages(msgs, family, true) > budget {
		hasSummary := len(msgs) > 0 && msgs[0].Role == chatmodel.RoleUser && strings.Contains(msgs[0].Text(), "[Summary of earlier turns:")
		dropAt := 0
		if hasSummary {
			dropAt = 1
		}
		// Never drop the current turn: once only it remains, there is nothing
		// left to shrink. With only the summary beside it, drop the summary.
		if dropAt >= len(msgs)-1 {
			if len(msgs) < 2 {
				return nil, gatewayerr.New(gatewayerr.KindContextOverflow, 413, false,
					"the current message alone exceeds the model's context window")
			}
			dropAt = 0
		}
		msgs = append(msgs[:dropAt], msgs[dropAt+1:]...)
	}
	return msgs, nil
}

// summarizeTurns builds a deterministic, model-free abstract: for each
// dropped turn, the first and last sentence of its text, capped at three
// sentences per turn and maxSummaryTokens overall.
func summarizeTurns(turns []chatmodel.Message) string {
	var bullets []string
	budgetLeft := maxSummaryTokens

	for _, m := range turns {
		text := strings.TrimSpace(m.Text())
		if text == "" {
			continue
		}
		abstract := firstAndLastSentence(text)
		if abstract == "" {
			continue
		}
		cost := tokens.CountText(abstract, tokens.FamilyOther, false)
		if cost > budgetLeft {
			break
		}
		budgetLeft -= cost
		bullets = append(bullets, fmt.Sprintf("- (%s) %s", m.Role, abstract))
	}

	if len(bullets) == 0 {
		return "[Summary of earlier turns: no further detail available]"
	}
	return "[Summary of earlier turns:\n" + strings.Join(bullets, "\n") + "]"
}

// firstAndLastSentence returns up to three sentences: the first, ellipsized,
// then the last, when more than one sentence is present.
func firstAndLastSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}
	if len(sentences) == 1 {
		return sentences[0]
	}
	first := sentences[0]
	last := sentences[len(sentences)-1]
	if first == last {
		return first
	}
	return first + " [...] " + last
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
