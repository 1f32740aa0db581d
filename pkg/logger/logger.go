package logger

import (
	"go.uber.org/zap"
)

func New() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// WithCorrelation tags every log line of one request lifecycle with its
// correlation id.
func WithCorrelation(l *zap.Logger, correlationID string) *zap.Logger {
	if correlationID == "" {
		return l
	}
	return l.With(zap.String("correlation_id", correlationID))
}
