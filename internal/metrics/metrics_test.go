package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, QueueDepth)
	assert.NotNil(t, ClaimLatency)
	assert.NotNil(t, TasksClaimed)
	assert.NotNil(t, TasksCompleted)
	assert.NotNil(t, StaleRecovered)
	assert.NotNil(t, ReviewIterations)
	assert.NotNil(t, ReviewJudgments)
	assert.NotNil(t, ChunkingFanOutWidth)
	assert.NotNil(t, SubtaskRetries)
	assert.NotNil(t, LockWaitFailures)
	assert.NotNil(t, DeadlocksDetected)
	assert.NotNil(t, ExecutorSemaphoreInUse)
	assert.NotNil(t, ExecutorLimitExceeded)
	assert.NotNil(t, PreflightFailures)
	assert.NotNil(t, TimeoutsFired)
	assert.NotNil(t, HTTPRequestDuration)
}

func TestRecordClaim(t *testing.T) {
	TasksClaimed.Reset()
	ClaimLatency.Reset()

	RecordClaim("dev", 0.25)
	RecordClaim("dev", 1.5)
}

func TestRecordTerminal(t *testing.T) {
	TasksCompleted.Reset()
	RecordTerminal("dev", "COMPLETE")
	RecordTerminal("dev", "ERROR")
}

func TestRecordStaleRecoveredSkipsZero(t *testing.T) {
	StaleRecovered.Reset()
	RecordStaleRecovered("dev", 0)
	RecordStaleRecovered("dev", 3)
}

func TestSetSemaphoreInUse(t *testing.T) {
	SetSemaphoreInUse("dev", 2)
	SetSemaphoreInUse("dev", 0)
}
