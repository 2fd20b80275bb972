package respond

import (
	"fmt"
	"strings"

	"github.com/MrWong99/meetagent/internal/conversation"
)

// Prompt is the per-turn input to the system prompt.
type Prompt struct {
	Meeting conversation.Context

	// Recalled holds earlier transcript lines related to the utterance.
	Recalled []string
}

func systemPrompt(agent string, p Prompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI assistant participating in a video meeting.\n\n", agent)
	b.WriteString("Guidelines:\n")
	b.WriteString("- Keep responses concise, one or two sentences.\n")
	b.WriteString("- Be natural and conversational.\n")
	b.WriteString("- Speak the way people talk in a meeting. No lists, no markdown.\n")
	b.WriteString("- Do not mention being an AI unless asked.\n")
	b.WriteString("\nMeeting context: Professional discussion\n")

	m := p.Meeting
	if m.MeetingTitle != "" {
		fmt.Fprintf(&b, "Meeting topic: %s\n", m.MeetingTitle)
	}
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(m.Participants, ", "))
	}
	if len(m.Topics) > 0 {
		fmt.Fprintf(&b, "Recent topics: %s\n", strings.Join(m.Topics, ", "))
	}
	if len(p.Recalled) > 0 {
		b.WriteString("\nEarlier in this meeting:\n")
		for _, r := range p.Recalled {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
