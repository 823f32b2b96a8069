package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		Time:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Proto:       "TCP",
		Direction:   "active",
		SrcAddr:     "10.0.0.1",
		DstAddr:     "10.0.0.5",
		ListenPort:  443,
		PID:         42,
		ProcessName: "curl",
	}
}

func TestStdout_PlainFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf, false)

	require.NoError(t, s.Write(context.Background(), []Record{sampleRecord()}))

	line := buf.String()
	assert.Contains(t, line, "TCP active")
	assert.Contains(t, line, "pid=42")
	assert.Contains(t, line, "comm=curl")
	assert.Contains(t, line, "src=10.0.0.1")
	assert.Contains(t, line, "dst=10.0.0.5")
	assert.Contains(t, line, "lport=443")
}

func TestStdout_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf, true)

	require.NoError(t, s.Write(context.Background(), []Record{sampleRecord()}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "TCP", got["proto"])
	assert.Equal(t, "active", got["direction"])
	assert.Equal(t, "10.0.0.5", got["daddr"])
	assert.Equal(t, float64(443), got["lport"])
	assert.Equal(t, "curl", got["process"])
	assert.NotContains(t, got, "Flow", "raw flow must not leak into the wire format")
}

func TestStdout_EmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf, false)
	require.NoError(t, s.Write(context.Background(), nil))
	assert.Zero(t, buf.Len())
}
