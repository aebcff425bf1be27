package errordata

import (
	"context"
)

type key struct{}

var errorDataKey key

// ErrorData holds the one message a failed request shows the user. Services set
// it at the point of failure; handlers prefer it over raw error text.
type ErrorData struct {
	Message string
}

func WithErrorData(ctx context.Context) context.Context {
	ed := &ErrorData{Message: ""}
	return context.WithValue(ctx, errorDataKey, ed)
}

func GetErrorData(ctx context.Context) *ErrorData {
	val := ctx.Value(errorDataKey)
	ed, ok := val.(*ErrorData)
	if !ok {
		return nil
	}
	return ed
}

func (ed *ErrorData) SetMessage(msg string) {
	ed.Message = msg
}

func (ed *ErrorData) HasMessage() bool {
	return ed.Message != ""
}

// SetMessage records msg on ctx's ErrorData if there is one and it is still
// empty; the first failure wins.
func SetMessage(ctx context.Context, msg string) {
	if ed := GetErrorData(ctx); ed != nil && !ed.HasMessage() {
		ed.SetMessage(msg)
	}
}

// Message returns the recorded message, or fallback when none was set.
func Message(ctx context.Context, fallback string) string {
	if ed := GetErrorData(ctx); ed != nil && ed.HasMessage() {
		return ed.Message
	}
	return fallback
}
