// Package notifydata collects websocket notifications raised while handling a
// request. They are only delivered once the request has succeeded.
package notifydata

import (
	"context"

	"github.com/google/uuid"
)

type key struct{}

var notifyDataKey key

type Notification struct {
	UserID uuid.UUID
	Event  string
	Data   interface{}
}

type NotifyData struct {
	Notifications []Notification
}

func WithNotifyData(ctx context.Context) context.Context {
	data := &NotifyData{
		Notifications: make([]Notification, 0),
	}
	return context.WithValue(ctx, notifyDataKey, data)
}

func GetNotifyData(ctx context.Context) *NotifyData {
	val := ctx.Value(notifyDataKey)
	nd, ok := val.(*NotifyData)
	if !ok {
		return nil
	}
	return nd
}

func (d *NotifyData) Append(n Notification) {
	d.Notifications = append(d.Notifications, n)
}

// Append is a no-op when ctx carries no NotifyData.
func Append(ctx context.Context, n Notification) {
	if d := GetNotifyData(ctx); d != nil {
		d.Append(n)
	}
}
