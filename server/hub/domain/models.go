package domain

import "time"

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
)

// Message is a direct chat message between two users. Only the sender may
// edit or delete it. Status "delivered" means the live push to the receiver
// succeeded when the message was sent; it is not a read receipt.
type Message struct {
	ID         int64         `json:"id"`
	SenderID   string        `json:"sender_id"`
	ReceiverID string        `json:"receiver_id"`
	Content    string        `json:"content"`
	Timestamp  time.Time     `json:"timestamp"`
	Status     MessageStatus `json:"status"`
}

type ForumPost struct {
	ID        int64     `json:"id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	FileRef   *string   `json:"file_ref,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Todo struct {
	ID          int64     `json:"id"`
	OwnerID     string    `json:"user_id"`
	Date        time.Time `json:"date"`
	Task        string    `json:"task"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dayLayout = "2006-01-02"

// ParseDay accepts "2006-01-02" or an RFC 3339 timestamp.
func ParseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(dayLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, Validationf("date must be YYYY-MM-DD or RFC3339")
	}
	return Day(t), nil
}

func FormatDay(t time.Time) string {
	return t.Format(dayLayout)
}
