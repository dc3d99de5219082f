package models

// Message represents a direct message stored in Redis.
type Message struct {
	ID        string `json:"id"` // ULID
	From      string `json:"from"`
	To        string `json:"to"`
	Body      string `json:"message"`
	Timestamp int64  `json:"ts"` // Unix ms
}
