package tables

import "github.com/JonMunkholm/dailydrop/internal/core"

func init() {
	registerApplications()
	registerAccounts()
}

func registerApplications() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:         "applications",
			Label:       "Applications",
			FileName:    "applications.csv",
			Order:       orderApplications,
			BusinessKey: []string{"application_id"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "application_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "scorecard_version", Type: core.FieldText},
			{Name: "decision", Type: core.FieldEnum, EnumValues: []string{"approved", "declined"}},
			{Name: "bureau_score", Type: core.FieldInteger, Required: true},
			{Name: "product", Type: core.FieldText},
			{Name: "channel", Type: core.FieldText},
			{Name: "segment", Type: core.FieldText},
		},
	})
}

func registerAccounts() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:         "accounts",
			Label:       "Accounts",
			FileName:    "accounts.csv",
			Order:       orderAccounts,
			BusinessKey: []string{"account_id"},
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "account_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "application_id", Type: core.FieldText, Required: true, Normalizer: NormalizeID},
			{Name: "activation_date", Type: core.FieldDate, Required: true},
		},
	})
}
