// Package core provides the daily drop pipeline: quality gate, staging and
// cleaning of the five credit-portfolio entities.
//
// This package holds all domain logic independent of the CLI and the HTTP
// server. Both binaries build a [Service] and call [Service.Run] or
// [Service.StartRun].
//
// # Architecture
//
//   - Table Definitions: registered at init time from the tables package,
//     each entity declares its source file, business key and typed fields.
//   - Rules: a sealed set of six rule types ([RequiredColumns],
//     [EnumConstraint], [RangeConstraint], [NonNegative], [DateFormat],
//     [UniqueKey]) loaded into an immutable [RuleCatalogue].
//   - Quality Engine: validates one table's batch in parallel and produces a
//     [TableReport]; the [GateMode] decides which rows proceed.
//   - Staging Store: append-only stg_<table> tables that grow new text
//     columns as the source files drift.
//   - Cleaner: rebuilds clean_<table> for a run date, latest row per key.
//   - Audit: etl_runs, etl_load_stats and pipeline_execution_log.
//
// # Table Registry
//
//	core.Register(core.TableDefinition{
//	    Info: core.TableInfo{Key: "payments", Label: "Payments", BusinessKey: []string{"payment_id"}},
//	    FieldSpecs: []core.FieldSpec{
//	        {Name: "payment_id", Type: core.FieldText, Required: true},
//	        {Name: "amount", Type: core.FieldDecimal, Required: true},
//	    },
//	})
//
// # Run Flow
//
//  1. Acquire the run-date lock and open an etl_runs record
//  2. Optionally generate synthetic source files
//  3. Ingest and validate every registered table
//  4. Store the JSON and CSV quality report
//  5. Apply the gate: strict aborts, permissive drops failing rows,
//     audit-only keeps everything
//  6. Append admitted rows to staging, one transaction per table
//  7. Clean each staged table for the run date
//  8. Record load statistics, end the run and publish a run.completed event
//
// A [SchemaEvolutionConflict] stops staging of that table only and makes the
// run partial. Every step is logged so a failed batch can be resumed without
// appending twice.
//
// # Error Handling
//
// Errors are mapped to operator-facing messages with [MapError]:
//
//   - DB001-DB005: storage
//   - DQ001-DQ004: data quality
//   - STG001-STG002: staging
//   - CLN001: cleaning
//   - RUN001-RUN007: orchestration
package core
