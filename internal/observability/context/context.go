package obscontext

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	taxpayerIDKey contextKey = "taxpayer_id"
	actorTypeKey  contextKey = "actor_type"
	actorIDKey    contextKey = "actor_id"
)

// WithRequestID stores the request id for correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id or empty.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTaxpayerID stores the taxpayer id the request acts on behalf of.
func WithTaxpayerID(ctx context.Context, taxpayerID string) context.Context {
	taxpayerID = strings.TrimSpace(taxpayerID)
	if taxpayerID == "" {
		return ctx
	}
	return context.WithValue(ctx, taxpayerIDKey, taxpayerID)
}

// TaxpayerIDFromContext returns the taxpayer id or empty.
func TaxpayerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(taxpayerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActor stores the acting principal (user, system, scheduler).
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, strings.TrimSpace(actorType))
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

// ActorFromContext returns the actor type and id, either may be empty.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	actorType, _ := ctx.Value(actorTypeKey).(string)
	actorID, _ := ctx.Value(actorIDKey).(string)
	return actorType, actorID
}
