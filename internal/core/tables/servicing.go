package tables

import "github.com/JonMunkholm/dailydrop/internal/core"

func init() {
	registerTransactions()
	registerPayments()
	registerDelinquency()
}

func registerTransactions() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:         "transactions",
			Label:       "Transactions",
			FileName:    "transactions.csv",
			Order:       orderTransactions,
			BusinessKey: []string{"transaction_id"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "transaction_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "account_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "transaction_date", Type: core.FieldDate, Required: true},
			{Name: "amount", Type: core.FieldDecimal, Required: true},
		},
	})
}

func registerPayments() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:         "payments",
			Label:       "Payments",
			FileName:    "payments.csv",
			Order:       orderPayments,
			BusinessKey: []string{"payment_id"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "payment_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "account_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "payment_date", Type: core.FieldDate, Required: true},
			{Name: "amount", Type: core.FieldDecimal, Required: true},
		},
	})
}

// Delinquency carries one status row per account; a later drop replaces
// the earlier one for the same run date.
func registerDelinquency() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:         "delinquency",
			Label:       "Delinquency",
			FileName:    "delinquency.csv",
			Order:       orderDelinquency,
			BusinessKey: []string{"account_id"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "account_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "days_past_due", Type: core.FieldInteger, Required: true, Normalizer: NormalizeDaysPastDue},
			{Name: "default_flag", Type: core.FieldInteger, Required: true, Normalizer: NormalizeFlag},
		},
	})
}
