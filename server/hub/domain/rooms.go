package domain

const ForumRoom = "forum"

// UserRoom is the private room every connection of a user joins.
func UserRoom(userID string) string {
	return "user:" + userID
}

// PairRoom names the chat room of two users. Argument order does not matter.
func PairRoom(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat:" + a + ":" + b
}
