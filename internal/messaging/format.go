package messaging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BTreeMap/LoanPipe/internal/models"
)

// FormatReply renders a stage result for a text-only channel. Quick replies
// become a numbered option list under the message.
func FormatReply(res models.StageResult) string {
	if len(res.QuickReplies) == 0 {
		return res.Text
	}
	var b strings.Builder
	b.WriteString(res.Text)
	b.WriteString("\n\nReply with a number:")
	for i, option := range res.QuickReplies {
		fmt.Fprintf(&b, "\n%d. %s", i+1, option)
	}
	return b.String()
}

// ResolveQuickReply maps a reply consisting only of an option number to that
// option. Anything else is returned unchanged.
func ResolveQuickReply(options []string, body string) string {
	n, err := strconv.Atoi(strings.TrimSpace(body))
	if err != nil || n < 1 || n > len(options) {
		return body
	}
	return options[n-1]
}
