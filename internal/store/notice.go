package store

import (
	"context"
	"log/slog"
)

// NoticeIntegrityReset is the i18n key of the notice sent after a balance reset.
const NoticeIntegrityReset = "notice.integrity_reset"

var defaultNoticeText = map[string]string{
	NoticeIntegrityReset: "Your balances were reset because of a data integrity problem.",
}

// Notice is a user-visible message raised by the store.
type Notice struct {
	UserID string
	Key    string
	Text   string
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(ctx context.Context, notice Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, notice Notice)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, notice Notice) {
	f(ctx, notice)
}

// LogNotifier writes notices to log. Used when no presentation layer is attached.
func LogNotifier(log *slog.Logger) Notifier {
	return NotifierFunc(func(ctx context.Context, notice Notice) {
		log.WarnContext(ctx, notice.Text, slog.String("user_id", notice.UserID), slog.String("notice", notice.Key))
	})
}
