package timeoutmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForPrompt_ExplicitRequestWins(t *testing.T) {
	p := ForPrompt("trivial prompt", Extended)
	assert.Equal(t, Extended, p.Name)
}

func TestForPrompt_HeuristicByKeyword(t *testing.T) {
	assert.Equal(t, Long, ForPrompt("refactor the entire module", "").Name)
	assert.Equal(t, Extended, ForPrompt("rewrite the entire codebase", "").Name)
	assert.Equal(t, Standard, ForPrompt("fix the typo in README", "").Name)
}

func TestEvaluate_NoTimeoutWithRegularProgress(t *testing.T) {
	profile := Profiles[Standard]
	started := time.Now().Add(-5 * time.Minute)
	lastProgress := time.Now().Add(-30 * time.Second)
	v := Evaluate(profile, started, started, lastProgress, time.Now())
	assert.False(t, v.TimedOut)
}

func TestEvaluate_IdleTimeoutWithoutProgress(t *testing.T) {
	profile := Profiles[Standard]
	started := time.Now().Add(-2 * time.Minute)
	v := Evaluate(profile, started, started, started, started.Add(61*time.Second))
	assert.True(t, v.TimedOut)
	assert.Equal(t, "idle", v.Reason)
	assert.Equal(t, "AWAITING_RESPONSE", v.Action)
}

func TestEvaluate_HardDeadlineTakesPrecedence(t *testing.T) {
	profile := Profiles[Standard]
	created := time.Now().Add(-11 * time.Minute)
	started := created
	lastProgress := time.Now().Add(-1 * time.Second) // frequent progress, but hard limit still fires
	v := Evaluate(profile, created, started, lastProgress, time.Now())
	assert.True(t, v.TimedOut)
	assert.Equal(t, "hard", v.Reason)
	assert.Equal(t, "ERROR", v.Action)
}
