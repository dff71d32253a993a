package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/dailydrop/internal/core"
	mw "github.com/JonMunkholm/dailydrop/internal/web/middleware"
)

// withTrigger marks the context of an API-triggered run with the client address.
func withTrigger(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithTrigger(ctx, core.TriggerAPI)
	return core.ContextWithIPAddress(ctx, mw.ClientIP(r))
}
