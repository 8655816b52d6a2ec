package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	p := Get()
	assert.Equal(t, "dev", p.Version)
	assert.Equal(t, "unknown", p.GitCommit)
	assert.Equal(t, runtime.Version(), p.GoVersion)
}

func TestProperties_String(t *testing.T) {
	p := Properties{Version: "v1.2.0", GitCommit: "abc1234", BuildTime: "2024-03-01T02:00:00Z", GoVersion: "go1.23.0"}
	assert.Equal(t, "gosync v1.2.0 (commit abc1234, built 2024-03-01T02:00:00Z, go1.23.0)", p.String())
}
