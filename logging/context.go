package logging

import (
	"context"

	"github.com/google/uuid"
)

// debugKeyField names the structured field carrying the debug key of a context.
const debugKeyField = "debug_key"

type debugKey struct{}

// EnableDebugMode returns a copy of ctx whose CDebug logs are emitted at any logger level and tagged
// with key. An empty key is replaced by a random six character one.
func EnableDebugMode(ctx context.Context, key string) context.Context {
	if key == "" {
		key = uuid.NewString()[:6]
	}
	return context.WithValue(ctx, debugKey{}, key)
}

// IsDebugMode reports whether ctx went through EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the debug key of ctx, or "" outside debug mode.
func GetName(ctx context.Context) string {
	key, _ := ctx.Value(debugKey{}).(string)
	return key
}
