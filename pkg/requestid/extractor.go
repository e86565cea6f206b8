package requestid

import (
	"context"
	"log/slog"
)

// LoggerExtractor adds a request_id attribute to every record logged with a
// context that carries one.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return slog.String("request_id", id), true
		}
		return slog.Attr{}, false
	}
}
