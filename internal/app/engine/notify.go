package engine

import (
	"context"

	"github.com/lifehub/essence/internal/domain"
)

// MultiNotifier fans a notification out to every sink in order.
type MultiNotifier []domain.Notifier

// Notify implements domain.Notifier.
func (m MultiNotifier) Notify(ctx context.Context, n domain.Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(ctx, n)
		}
	}
}

// NotifierFunc adapts a function to domain.Notifier.
type NotifierFunc func(ctx context.Context, n domain.Notification)

// Notify implements domain.Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n domain.Notification) { f(ctx, n) }
