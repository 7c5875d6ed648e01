// Package scheduler runs the in-process recurring jobs:
// - the daily incremental update after market close
// - weekly cleanup of expired admin sessions
//
// Jobs are defined in jobs.go.
package scheduler
