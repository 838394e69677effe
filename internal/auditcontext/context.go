package auditcontext

import (
	"context"
	"strings"
)

type requestMetadata struct {
	RequestID string
	IPAddress string
	UserAgent string
	ActorType string
	ActorID   string
}

type metadataKey struct{}

func metadataFrom(ctx context.Context) requestMetadata {
	if ctx == nil {
		return requestMetadata{}
	}
	value, _ := ctx.Value(metadataKey{}).(requestMetadata)
	return value
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	meta := metadataFrom(ctx)
	meta.RequestID = strings.TrimSpace(requestID)
	return context.WithValue(ctx, metadataKey{}, meta)
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	meta := metadataFrom(ctx)
	meta.IPAddress = strings.TrimSpace(ip)
	return context.WithValue(ctx, metadataKey{}, meta)
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	meta := metadataFrom(ctx)
	meta.UserAgent = strings.TrimSpace(userAgent)
	return context.WithValue(ctx, metadataKey{}, meta)
}

// WithActor records who is acting for entries that do not name an actor.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	meta := metadataFrom(ctx)
	meta.ActorType = strings.TrimSpace(actorType)
	meta.ActorID = strings.TrimSpace(actorID)
	return context.WithValue(ctx, metadataKey{}, meta)
}

func Actor(ctx context.Context) (string, string) {
	meta := metadataFrom(ctx)
	return meta.ActorType, meta.ActorID
}

// RequestID, IPAddress and UserAgent return the request metadata recorded on
// audit entries. Background jobs get empty strings.
func RequestID(ctx context.Context) string { return metadataFrom(ctx).RequestID }

func IPAddress(ctx context.Context) string { return metadataFrom(ctx).IPAddress }

func UserAgent(ctx context.Context) string { return metadataFrom(ctx).UserAgent }
