package orchestrator

import (
	"context"
	"errors"
	"log/slog"
)

// Channel delivers status updates and documents back to a requester.
type Channel interface {
	SendStatus(ctx context.Context, text string) error
	SendDocument(ctx context.Context, path string) error
}

// ChannelFactory returns the delivery channel for a requester.
type ChannelFactory func(requesterID int64) Channel

// MultiChannel fans delivery out to several recipients. A send succeeds when
// at least one recipient received it; individual failures are logged.
type MultiChannel struct {
	Channels []Channel
	Logger   *slog.Logger
}

func (m MultiChannel) SendStatus(ctx context.Context, text string) error {
	return m.each(func(ch Channel) error { return ch.SendStatus(ctx, text) })
}

func (m MultiChannel) SendDocument(ctx context.Context, path string) error {
	return m.each(func(ch Channel) error { return ch.SendDocument(ctx, path) })
}

func (m MultiChannel) each(send func(Channel) error) error {
	if len(m.Channels) == 0 {
		return errors.New("no recipients")
	}
	var errs []error
	for i, ch := range m.Channels {
		if err := send(ch); err != nil {
			if m.Logger != nil {
				m.Logger.Warn("recipient delivery failed", "event", "recipient_failed", "recipient", i, "error", err)
			}
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.Channels) {
		return errors.Join(errs...)
	}
	return nil
}
