package channel

import (
	"errors"
	"fmt"
)

// Common channel errors
var (
	ErrPermanent = errors.New("recipient unreachable")
	ErrTransient = errors.New("transient delivery failure")
	ErrRejected  = errors.New("message rejected")
)

// ErrorClass classifies a delivery failure
type ErrorClass string

const (
	// ClassPermanent means the recipient can no longer be reached (blocked the bot, chat gone)
	ClassPermanent ErrorClass = "permanent"
	// ClassTransient covers network errors, timeouts, rate limits and 5xx responses
	ClassTransient ErrorClass = "transient"
	// ClassRejected means this message was refused but the recipient is still reachable
	ClassRejected ErrorClass = "rejected"
)

// ChannelError represents a channel-specific delivery error
type ChannelError struct {
	Channel    string     `json:"channel"`
	Class      ErrorClass `json:"class"`
	StatusCode int        `json:"status_code,omitempty"`
	Message    string     `json:"message"`
	Err        error      `json:"-"`
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %d: %s (%v)", e.Channel, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s %d: %s", e.Channel, e.Class, e.StatusCode, e.Message)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the class sentinels
func (e *ChannelError) Is(target error) bool {
	switch target {
	case ErrPermanent:
		return e.Class == ClassPermanent
	case ErrTransient:
		return e.Class == ClassTransient
	case ErrRejected:
		return e.Class == ClassRejected
	}
	return false
}

// NewChannelError creates a new channel error
func NewChannelError(channel string, class ErrorClass, statusCode int, message string, err error) *ChannelError {
	return &ChannelError{
		Channel:    channel,
		Class:      class,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// ClassOf returns the class of err. Unknown errors and deadline expiry count as transient.
func ClassOf(err error) ErrorClass {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Class
	}
	return ClassTransient
}

// IsTemporaryError checks if an error is worth retrying
func IsTemporaryError(err error) bool {
	if err == nil {
		return false
	}
	return ClassOf(err) == ClassTransient
}

// IsPermanentError checks if the recipient is unreachable
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	return ClassOf(err) == ClassPermanent
}
