package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey    contextKey = "trace_id"
	MessageIDKey  contextKey = "message_id"
	PacketTypeKey contextKey = "packet_type"
	RequestIDKey  contextKey = "request_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// WithPacketType tags every subsequent log line with the declared packet type.
func WithPacketType(ctx context.Context, packetType string) context.Context {
	return context.WithValue(ctx, PacketTypeKey, packetType)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, MessageIDKey)
}

func GetPacketType(ctx context.Context) string {
	return stringValue(ctx, PacketTypeKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, string(TraceIDKey), traceID)
	}

	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, string(MessageIDKey), messageID)
	}

	if packetType := GetPacketType(ctx); packetType != "" {
		fields = append(fields, string(PacketTypeKey), packetType)
	}

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, string(RequestIDKey), requestID)
	}

	return fields
}
