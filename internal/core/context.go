package core

import "context"

type contextKey string

const (
	ctxKeyTrigger   contextKey = "run_trigger"
	ctxKeyIPAddress contextKey = "run_ip"
)

// Run triggers recorded in etl_runs.triggered_by.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// ContextWithTrigger records what started a run.
func ContextWithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, ctxKeyTrigger, trigger)
}

// ContextWithIPAddress records the client address of an API trigger.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// TriggerFromContext returns "cli", "schedule", "api" or "api:<ip>".
func TriggerFromContext(ctx context.Context) string {
	trigger, _ := ctx.Value(ctxKeyTrigger).(string)
	if trigger == "" {
		trigger = TriggerCLI
	}
	if ip, ok := ctx.Value(ctxKeyIPAddress).(string); ok && ip != "" && trigger == TriggerAPI {
		return trigger + ":" + ip
	}
	return trigger
}
