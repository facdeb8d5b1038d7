package chat

import "fmt"

// missingField is substituted for optional listing fields that were never
// filled in, so the snapshot renders without nil checks downstream.
const missingField = "N/A"

// NewPostInquiry builds the message payload for a "contact owner" action:
// the display text gains a bracketed status/title tag (used by plain-text
// fallback rendering), the raw input is preserved in OriginalText, and the
// listing is snapshotted in full. The listing itself is never mutated.
func NewPostInquiry(l Listing, text string) *Message {
	return &Message{
		Text:         fmt.Sprintf("[%s: %s] %s", l.Status, l.Title, text),
		OriginalText: text,
		Type:         TypePostInquiry,
		PostRef: &PostReference{
			PostID:      l.ID,
			Title:       l.Title,
			Status:      l.Status,
			Category:    orMissing(l.Category),
			Location:    orMissing(l.Location),
			Image:       l.Image,
			Description: l.Description,
			OwnerName:   l.OwnerName,
			OwnerUID:    l.OwnerUID,
			CreatedAt:   l.CreatedAt,
			PostType:    string(l.Type),
			Price:       orMissing(l.Price),
			Condition:   orMissing(l.Condition),
		},
	}
}

func orMissing(s string) string {
	if s == "" {
		return missingField
	}
	return s
}
