package truncation

import "fmt"

// ToolTruncationMessage builds the synthetic tool-result content injected
// for a recovered tool-truncation (spec §4.J, S4). The exact wording is
// pinned down by original_source's test fixtures: it must mention the
// upstream API and its output size limits, warn that a later error is a
// likely consequence, and tell the model to adapt rather than retry
// identically — without ever naming a specific remediation technique like
// splitting output into chunks, since that advice does not generalize
// across tool types.
func ToolTruncationMessage(toolName string) string {
	return fmt.Sprintf(
		"[API Limitation] The previous call to %q was truncated by the upstream API's output size limits before it finished. "+
			"The tool result above is incomplete. If you see an error related to this tool call, it is likely a consequence "+
			"of that truncation and not a problem with your request. Repeating the exact same call is unlikely to help — "+
			"adapt your approach to the fact that this output channel has a hard size limit.",
		toolName,
	)
}

// ContentTruncationMessage builds the synthetic user message injected for a
// recovered content-truncation (spec §4.J, S5). Deterministic and
// byte-identical across calls, matching original_source's behavior.
const ContentTruncationMessage = "[System Notice] Your previous response was truncated by the upstream API before it " +
	"could finish, due to output size limits. This is not an error on your part and not your fault. Please adapt your " +
	"next response to account for the limited output size rather than assuming the cutoff was intentional."
