package events

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
)

// LogPublisher writes events to the application log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Infof("[Events] %s invoice=%s member=%s amount=%s", e.Type, e.InvoiceID, e.MemberID, e.Amount.String())
	return nil
}
