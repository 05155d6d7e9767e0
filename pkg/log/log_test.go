package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	res := []map[string]any{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		res = append(res, m)
	}
	return res
}

func TestLogger_Level(t *testing.T) {
	tests := []struct {
		name  string
		level Level
		exp   []string
	}{
		{name: "nolog", level: NoLog, exp: []string{}},
		{name: "info", level: Info, exp: []string{"info", "warn", "error"}},
		{name: "warn", level: Warn, exp: []string{"warn", "error"}},
		{name: "error", level: Error, exp: []string{"error"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := &bytes.Buffer{}
			l := NewWriter(tt.level, buf)
			l.Info("a")
			l.Warn("b")
			l.Err("c")
			levels := []string{}
			for _, r := range records(t, buf) {
				levels = append(levels, r["level"].(string))
			}
			assert.Equal(t, tt.exp, levels)
		})
	}
}

func TestLogger_With(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := NewWriter(Info, buf)
	parent.SetClock(func() time.Duration { return 1500 * time.Millisecond })
	child := parent.With()
	child.SetProtocol("bgp")
	child.Set("router", "10.0.0.1")

	child.Info("child %d", 1)
	parent.Info("parent")

	res := records(t, buf)
	require.Len(t, res, 2)
	assert.Equal(t, "child 1", res[0]["message"])
	assert.Equal(t, "bgp", res[0]["protocol"])
	assert.Equal(t, "10.0.0.1", res[0]["router"])
	assert.Equal(t, float64(1500), res[0]["sim_time"])

	assert.Equal(t, "parent", res[1]["message"])
	assert.NotContains(t, res[1], "router")
	assert.NotContains(t, res[1], "protocol")
	assert.Equal(t, float64(1500), res[1]["sim_time"])
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, Warn, l)
	assert.Equal(t, "warn", l.String())

	_, err = ParseLevel("debug")
	assert.Error(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(Info, "/tmp/bgpsim.log")
	assert.Error(t, err)
	_, err = New(Error+1, "stdout")
	assert.Error(t, err)
}
