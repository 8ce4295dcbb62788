package liveness

import (
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeCurrentProcessIsAlive(t *testing.T) {
	assert.True(t, Probe("pid:"+strconv.Itoa(os.Getpid())))
}

func TestProbeUnreachablePidIsDead(t *testing.T) {
	assert.False(t, Probe("pid:999999999"))
}

func TestProbeMalformedPidIsDead(t *testing.T) {
	assert.False(t, Probe("pid:not-a-number"))
}

func TestProbeUnrecognizedKindIsDead(t *testing.T) {
	assert.False(t, Probe("gha:run-12345"))
	assert.False(t, Probe("k8s:pod-abc"))
	assert.False(t, Probe("mystery:whatever"))
}

func TestProbeMissingColonIsDead(t *testing.T) {
	assert.False(t, Probe("no-colon-here"))
}
