package domain

import "time"

// IncomingMessage is a new-message event delivered by a chat source.
// ID is the per-chat ordinal used for cursor comparisons.
type IncomingMessage struct {
	ID             int64
	ChatID         ID
	ChatTitle      string
	SenderID       ID
	SenderUsername string
	SenderName     string
	Text           string
	SentAt         time.Time
}

// Signals are the coarse flags derived from message text.
type Signals struct {
	HasPrice      bool `json:"has_price"`
	HasContact    bool `json:"has_contact"`
	HasCarTerms   bool `json:"has_car_terms"`
	WordCount     int  `json:"word_count"`
	MessageLength int  `json:"message_length"`
}

// Envelope is the normalized message posted to the workflow sink.
type Envelope struct {
	RawText        string  `json:"raw_text"`
	SenderID       ID      `json:"sender_id"`
	SenderUsername string  `json:"sender_username"`
	SenderName     string  `json:"sender_name"`
	ChatID         ID      `json:"chat_id"`
	ChatTitle      string  `json:"chat_title"`
	MessageID      int64   `json:"message_id"`
	Timestamp      float64 `json:"timestamp"`
	ExtractedData  Signals `json:"extracted_data"`
}
