package backend

import (
	"errors"
	"strings"
)

const (
	chatMLStart = "<|im_start|>"
	chatMLEnd   = "<|im_end|>"
)

var errClosedInstance = errors.New("instance closed")

// renderChatML flattens a transcript into a ChatML prompt ending with an open
// assistant turn.
func renderChatML(msgs []Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(chatMLStart)
		sb.WriteString(m.Role)
		sb.WriteByte('\n')
		sb.WriteString(m.Content)
		for _, c := range m.ToolCalls {
			sb.WriteString("\n<tool_call>{\"name\":\"")
			sb.WriteString(c.Name)
			sb.WriteString("\",\"arguments\":")
			sb.WriteString(c.Arguments)
			sb.WriteString("}</tool_call>")
		}
		sb.WriteString(chatMLEnd)
		sb.WriteByte('\n')
	}
	sb.WriteString(chatMLStart)
	sb.WriteString("assistant\n")
	return sb.String()
}
