package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nurture-app/nurture-backend/internal/errordata"
	"github.com/nurture-app/nurture-backend/internal/notifydata"
)

// Notifier delivers a user notification. Implemented by socket.Hub.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data interface{})
}

// AttachRequestContext installs the per-request carriers. Notifications raised
// by a request are delivered after the handler returns, and only on success.
func AttachRequestContext(notifier Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ctx = notifydata.WithNotifyData(ctx)
		ctx = errordata.WithErrorData(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		if notifier == nil || c.Writer.Status() >= 400 {
			return
		}
		if ed := errordata.GetErrorData(ctx); ed != nil && ed.HasMessage() {
			return
		}
		nd := notifydata.GetNotifyData(ctx)
		if nd == nil {
			return
		}
		for _, n := range nd.Notifications {
			notifier.Notify(context.WithoutCancel(ctx), n.UserID, n.Event, n.Data)
		}
	}
}
