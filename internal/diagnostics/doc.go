// Package diagnostics backs the doctor command and crash reporting.
//
// Probe reads host resources through gopsutil, Doctor turns configuration
// and host state into pass/warn/fail checks, and CrashDumpWriter records a
// post-mortem file when the process panics during a run.
package diagnostics
