package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/tools"
)

const basePrompt = `You are Steward, a helpful assistant integrated into the user's cloud workspace.
You can call tools to look things up and to act on the user's behalf.
Prefer tools over guessing: when a question concerns the user's data, fetch it.
Tools that change something are only executed after the user confirms them; propose them when they serve the request.
Answer in the language the user writes in, and keep replies concise.`

// toolHints are extra instructions activated only when the named tool
// is actually bound for this user.
var toolHints = map[string]string{
	"duckduckgo_results_json":      "Use duckduckgo_results_json for facts you do not know or that may have changed recently. Cite the result URLs you relied on.",
	"list_talk_conversations":      "Before posting a chat message, use list_talk_conversations to find the exact conversation name.",
	"list_calendars":               "Before touching calendar events, use list_calendars to learn which calendars exist.",
	"find_person_in_contacts":      "When the user names a person, use find_person_in_contacts to resolve their email address or phone number.",
	"find_details_of_current_user": "Use find_details_of_current_user when you need the user's own name, email address or language.",
}

// hintOrder keeps the prompt stable across runs.
var hintOrder = []string{
	"duckduckgo_results_json",
	"list_talk_conversations",
	"list_calendars",
	"find_person_in_contacts",
	"find_details_of_current_user",
}

// BuildSystemPrompt assembles the system prompt for one interaction:
// the base instructions, the current date, per-tool usage hints for the
// tools actually available, and the caller-supplied memories.
func BuildSystemPrompt(now time.Time, set *tools.Set, memories []string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	fmt.Fprintf(&b, "\n\nCurrent date: %s.", now.Format("Monday, 2 January 2006"))

	var hints []string
	for _, name := range hintOrder {
		if set != nil && set.Lookup(name) != nil {
			hints = append(hints, toolHints[name])
		}
	}
	if len(hints) > 0 {
		b.WriteString("\n")
		for _, h := range hints {
			b.WriteString("\n" + h)
		}
	}

	if len(memories) > 0 {
		b.WriteString("\n\nThings you remember about this user from earlier conversations:\n")
		for _, m := range memories {
			b.WriteString("- " + m + "\n")
		}
	}

	return b.String()
}
