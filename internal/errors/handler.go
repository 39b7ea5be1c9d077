package errors

import (
	"context"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/fineu/fineu-core/internal/i18n"
	"github.com/fineu/fineu-core/pkg/logger"
)

const unknownMessageKey = "errors.unknown"

type Handler struct {
	log           *slog.Logger
	translator    i18n.Translator
	sentryEnabled bool
}

// NewHandler builds a Handler. translator may be nil, in which case the English
// user messages are returned.
func NewHandler(log *slog.Logger, translator i18n.Translator, sentryEnabled bool) *Handler {
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		log:           log,
		translator:    translator,
		sentryEnabled: sentryEnabled,
	}
}

// Handle logs err, reports severe failures and returns the message to show the user.
func (h *Handler) Handle(ctx context.Context, err error) string {
	if err == nil {
		return ""
	}

	if ctx == nil {
		ctx = context.Background()
	}

	appErr := Classify(err)

	attrs := []slog.Attr{
		slog.String("code", appErr.Code),
		slog.String("message", appErr.Message),
		slog.String("severity", string(appErr.Severity)),
	}

	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}

	level := slog.LevelWarn
	if appErr.Severity == SeverityHigh || appErr.Severity == SeverityCritical {
		level = slog.LevelError
	}
	h.log.LogAttrs(ctx, level, "application error", attrs...)

	if h.sentryEnabled && level == slog.LevelError {
		h.sendToSentry(appErr)
	}

	return h.userMessage(appErr)
}

func (h *Handler) userMessage(appErr *AppError) string {
	if h.translator == nil {
		if appErr.UserMessage == "" {
			return "Something went wrong. Please try again."
		}
		return appErr.UserMessage
	}

	key := appErr.MessageKey
	if key == "" {
		key = unknownMessageKey
	}
	return h.translator.Format(key, map[string]string{"detail": causeText(appErr.cause)})
}

func (h *Handler) sendToSentry(appErr *AppError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if appErr.Code != "" {
			scope.SetTag("code", appErr.Code)
		}

		if appErr.Severity != "" {
			scope.SetTag("severity", string(appErr.Severity))
		}

		sentry.CaptureException(appErr)
	})
}
