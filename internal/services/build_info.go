package services

import "time"

// BuildInfo describes the running binary for health and diagnostics endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
