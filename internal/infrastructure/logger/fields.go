package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Field constructors for the keys shared by every component.

func OrderID(id uuid.UUID) zap.Field {
	return zap.String("order_id", id.String())
}

func CorrelationID(id uuid.UUID) zap.Field {
	return zap.String("correlation_id", id.String())
}

func MessageID(id uuid.UUID) zap.Field {
	return zap.String("message_id", id.String())
}

func MessageType(t string) zap.Field {
	return zap.String("message_type", t)
}

func Status(s string) zap.Field {
	return zap.String("status", s)
}

func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}
