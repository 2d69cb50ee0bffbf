package chathub

import "errors"

// Send failure kinds. The text doubles as the wire code of message:error.
var (
	ErrEmptyPayload       = errors.New("empty_payload")
	ErrPayloadTooLarge    = errors.New("payload_too_large")
	ErrUnknownRecipient   = errors.New("unknown_recipient")
	ErrInvalidRecipient   = errors.New("invalid_recipient")
	ErrRateLimited        = errors.New("rate_limited")
	ErrPersistenceFailure = errors.New("persistence_failure")
)

// Codes of message:error that do not come from the pipeline.
const (
	CodeBadRequest     = "bad_request"
	CodeQueueFull      = "queue_full"
	CodeLocationFailed = "location_failed"
)

var sendErrorText = map[error]string{
	ErrEmptyPayload:       "message needs content or an image",
	ErrPayloadTooLarge:    "message content is too long",
	ErrUnknownRecipient:   "recipient does not exist",
	ErrInvalidRecipient:   "cannot send a message to yourself",
	ErrRateLimited:        "daily message limit reached, upgrade to keep chatting",
	ErrPersistenceFailure: "message could not be saved, please retry",
}

// SendError is returned by Pipeline.Send. Kind is one of the Err* values above.
type SendError struct {
	Kind error
	Err  error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *SendError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Code is the wire code reported to the sender.
func (e *SendError) Code() string { return e.Kind.Error() }

// Message is the human readable text reported to the sender.
func (e *SendError) Message() string {
	if text, ok := sendErrorText[e.Kind]; ok {
		return text
	}
	return e.Kind.Error()
}

func sendErr(kind error, err error) *SendError {
	return &SendError{Kind: kind, Err: err}
}
