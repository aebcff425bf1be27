package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	// ErrNotSeriesHead rejects scoped edits aimed at an override or a single event.
	ErrNotSeriesHead = fmt.Errorf("%w: event is not the head of a recurring series", ErrValidation)

	// ErrConversationIDMissing means the upstream stream ended before it named
	// a conversation.
	ErrConversationIDMissing = errors.New("upstream did not return a conversation id")

	ErrUpstream = errors.New("upstream chat API error")
)
