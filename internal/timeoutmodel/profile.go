// Package timeoutmodel implements the Timeout & Progress Model (spec §4.D):
// progress-event-aware timeout evaluation across three named profiles, with
// "process death only" as the sole non-progress termination trigger.
//
// Grounded on the teacher's task.RetryPolicy (internal/task/retry.go)
// for the shape of a small, named policy struct with a constructor and pure
// evaluation methods — re-targeted here from retry backoff math onto idle
// and hard deadline arithmetic.
package timeoutmodel

import (
	"strings"
	"time"
)

// ProfileName identifies one of the three timeout profiles.
type ProfileName string

const (
	Standard ProfileName = "standard"
	Long     ProfileName = "long"
	Extended ProfileName = "extended"
)

// Profile carries the idle and hard deadlines for one ProfileName.
type Profile struct {
	Name ProfileName
	Idle time.Duration
	Hard time.Duration
}

// Profiles is the fixed table of named profiles from §4.D.
var Profiles = map[ProfileName]Profile{
	Standard: {Name: Standard, Idle: 60 * time.Second, Hard: 10 * time.Minute},
	Long:     {Name: Long, Idle: 120 * time.Second, Hard: 30 * time.Minute},
	Extended: {Name: Extended, Idle: 300 * time.Second, Hard: 60 * time.Minute},
}

// longIndicators and extendedIndicators drive the rule-based size heuristic
// when a caller does not explicitly request a profile. They intentionally
// overlap with the chunking package's large-scope indicators (§4.F): both
// are reading the same signal (prompt scope) for different purposes.
var (
	extendedIndicators = []string{"entire codebase", "full migration", "whole system", "rewrite"}
	longIndicators     = []string{"entire", "full", "module", "system", "refactor"}
)

// ForPrompt resolves a profile by explicit request if non-empty, otherwise
// by a rule-based size heuristic over the prompt text.
func ForPrompt(prompt string, requested ProfileName) Profile {
	if p, ok := Profiles[requested]; ok {
		return p
	}

	lower := strings.ToLower(prompt)
	for _, kw := range extendedIndicators {
		if strings.Contains(lower, kw) {
			return Profiles[Extended]
		}
	}
	for _, kw := range longIndicators {
		if strings.Contains(lower, kw) {
			return Profiles[Long]
		}
	}
	if len(prompt) > 2000 {
		return Profiles[Long]
	}
	return Profiles[Standard]
}
