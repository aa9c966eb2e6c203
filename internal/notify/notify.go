// Package notify is the boundary to the chat front-end: the core only
// pushes outcome messages through it, never rendering menus itself.
package notify

import "context"

// Notifier delivers outcome messages to a subscriber's chat and failure
// context to the operator channel.
type Notifier interface {
	NotifyUser(ctx context.Context, telegramId int64, text string) error
	NotifyOperator(ctx context.Context, text string) error
}

// Nop discards all notifications. Used in tests and when no chat
// transport is configured.
type Nop struct{}

func (Nop) NotifyUser(context.Context, int64, string) error { return nil }
func (Nop) NotifyOperator(context.Context, string) error    { return nil }
