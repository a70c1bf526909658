package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoBuyers is returned when a match record would have no buyers.
	ErrNoBuyers = errors.New("match record needs at least one buyer")
	// ErrInvalidDraft marks a listing payload rejected before storage.
	ErrInvalidDraft = errors.New("invalid listing")
	// ErrNotConnected is returned by sources used before Connect.
	ErrNotConnected = errors.New("source not connected")
)

// ConnectError means the monitor could not authenticate with the chat
// transport or reach a monitored chat.
type ConnectError struct {
	Chat ID
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Chat != "" {
		return fmt.Sprintf("connect: chat %s: %v", e.Chat, e.Err)
	}
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StoreError is a failed store call. Status is the HTTP status for the
// REST driver and 0 otherwise.
type StoreError struct {
	Op     string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("store %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ForwardError is a failed sink delivery. The envelope is dropped.
type ForwardError struct {
	MessageID int64
	Status    int
	Err       error
}

func (e *ForwardError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("forward message %d: status %d", e.MessageID, e.Status)
	}
	return fmt.Sprintf("forward message %d: %v", e.MessageID, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }
