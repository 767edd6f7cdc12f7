package chat

import "errors"

var (
	ErrEmptyContent = errors.New("chat: empty message content")
	ErrNoUser       = errors.New("chat: user unavailable")
	ErrNotConnected = errors.New("chat: not connected")
)
