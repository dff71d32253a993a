// Package tables registers the daily drop entities with the core registry.
// Import it for side effects wherever a Service is built.
package tables

// Pipeline order: parents before children so reports and cleaning follow
// the data's own dependencies.
const (
	orderApplications = iota + 1
	orderAccounts
	orderTransactions
	orderPayments
	orderDelinquency
)
