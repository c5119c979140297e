package logging

import (
	"context"

	"go.viam.com/utils"
)

type traceKey struct{}

// EnableDebugMode tags ctx with a trace name. CDebug* calls made with the returned context are
// emitted at any log level and carry the name under "traceKey". An empty name is replaced by a
// random one.
func EnableDebugMode(ctx context.Context, name string) context.Context {
	if name == "" {
		name = utils.RandomAlphaString(6)
	}
	return context.WithValue(ctx, traceKey{}, name)
}

// IsDebugMode reports whether ctx was tagged by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the trace name of ctx, or "" when it has none.
func GetName(ctx context.Context) string {
	name, _ := ctx.Value(traceKey{}).(string)
	return name
}
