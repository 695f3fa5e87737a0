package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetAndGet_RoundTrips(t *testing.T) {
	r := NewRegistry()
	r.Set("ctl_frames_rx", 3)
	require.Equal(t, uint64(3), r.Get("ctl_frames_rx"))
}

func TestAdd_AccumulatesAcrossCalls(t *testing.T) {
	r := NewRegistry()
	r.Add("ctl_errors", 1)
	r.Add("ctl_errors", 1)
	require.Equal(t, uint64(2), r.Get("ctl_errors"))
}

func TestGet_UnknownKeyIsZero(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, uint64(0), r.Get("never_set"))
}

func TestWriteMetricLines_SortedAndFormatted(t *testing.T) {
	r := NewRegistry()
	r.Set("zeta", 9)
	r.Set("alpha", 5)

	var buf bytes.Buffer
	require.NoError(t, r.WriteMetricLines(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{"METRIC alpha=5", "METRIC zeta=9"}, lines)
}

func TestWriteGraphJSON_EndsWithDoneMarker(t *testing.T) {
	var buf bytes.Buffer
	err := WriteGraphJSON(&buf, GraphExport{
		Ops:      []OperatorExport{{ID: 1, Runs: 4}},
		Channels: []ChannelExport{{ID: 1, Cap: 8}},
		Stats:    map[string]uint64{"deadline_misses": 0},
	})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(buf.String(), "done\n"))
	require.Contains(t, buf.String(), `"runs":4`)
}

func TestWriteAuditJSON_EndsWithDoneMarker(t *testing.T) {
	var buf bytes.Buffer
	err := WriteAuditJSON(&buf, []AuditEntry{{TsNs: 100, Op: "add_channel", Status: "ok"}})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(buf.String(), "done\n"))
	require.Contains(t, buf.String(), `"op":"add_channel"`)
}
