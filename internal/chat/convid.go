package chat

// convIDSeparator joins the two participant uids. Uids come from the auth
// provider and never contain an underscore, which keeps the key collision-free.
const convIDSeparator = "_"

// ConversationID derives the stable conversation key for a participant pair.
// It is symmetric (ConversationID(a, b) == ConversationID(b, a)) and
// deterministic: the lexicographically smaller uid always comes first.
// Rejecting a == b is the composer's job, not the resolver's.
func ConversationID(a, b string) string {
	if a <= b {
		return a + convIDSeparator + b
	}
	return b + convIDSeparator + a
}
