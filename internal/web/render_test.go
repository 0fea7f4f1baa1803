package web

import (
	"bytes"
	"testing"
	"time"

	"github.com/matst80/portrelay/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "dashboard", map[string]any{
		"Target":    "127.0.0.1:9001",
		"Active":    1,
		"Total":     int64(3),
		"Failed":    int64(1),
		"BytesUp":   int64(4),
		"BytesDown": int64(3 * 1024 * 1024),
		"Sessions": []proto.SessionRecord{
			{ID: "abc", Client: "127.0.0.1:5000", Upstream: "127.0.0.1:9001", Started: time.Now()},
		},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Relay 127.0.0.1:9001")
	assert.Contains(t, out, "3.0 MiB")
	assert.Contains(t, out, "4 B")
	assert.Contains(t, out, "127.0.0.1:5000")
}

func TestRenderUnknownFallsBackToBase(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, "missing", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "<h1>portrelay</h1>")
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 GiB", humanBytes(2<<30))
}
