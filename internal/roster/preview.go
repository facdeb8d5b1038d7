package roster

import (
	"fmt"
	"strings"
	"time"

	"marketchat/internal/chat"
)

// previewMax is how many characters of the message body survive into the
// roster preview before the ellipsis.
const previewMax = 30

// previewText builds the one-line message preview: "You: " when the last
// sender is the viewer, a bracketed status/title tag when the message
// carries a listing snapshot, then the truncated body. For post inquiries
// the body is the raw user input, since the tag already covers the listing.
func previewText(m *chat.Message, selfUID string) string {
	if m == nil {
		return ""
	}
	var b strings.Builder
	if m.Sender == selfUID {
		b.WriteString("You: ")
	}
	body := m.Text
	if m.PostRef != nil {
		fmt.Fprintf(&b, "[%s: %s] ", m.PostRef.Status, m.PostRef.Title)
		if m.OriginalText != "" {
			body = m.OriginalText
		}
	}
	b.WriteString(truncate(body, previewMax))
	return b.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// formatWhen renders a message timestamp the way the inbox shows it:
// clock time today, weekday name within a week, month and day after that.
func formatWhen(tsMillis int64, now time.Time) string {
	if tsMillis == 0 {
		return ""
	}
	t := time.UnixMilli(tsMillis).In(now.Location())
	ty, tm, td := t.Date()
	ny, nm, nd := now.Date()
	if ty == ny && tm == nm && td == nd {
		return t.Format("15:04")
	}
	if now.Sub(t) < 7*24*time.Hour {
		return t.Format("Monday")
	}
	return t.Format("Jan 2")
}
