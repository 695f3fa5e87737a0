package kernel

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sis-kernel/core/internal/kernel/config"
	"github.com/sis-kernel/core/internal/kernel/ctlplane"
)

func testConfig() *config.KernelConfig {
	return &config.KernelConfig{
		AdmissionBoundPpm: 850_000,
		TimerHz:           62_500_000,
		Token:             config.TokenConfig{Secret: 42},
	}
}

func adminFrame(cmd ctlplane.Command, secret uint64, payload []byte) ctlplane.Frame {
	return ctlplane.Frame{Cmd: cmd, Token: ctlplane.NewToken(ctlplane.RightAdmin|ctlplane.RightSubmit, secret), Payload: payload}
}

func TestNew_BuildsAllSubsystems(t *testing.T) {
	k := New(testConfig(), nil)
	require.NotNil(t, k.Dispatcher)
	require.NotNil(t, k.Scheduler)
	require.NotNil(t, k.Admission)
	require.NotNil(t, k.NPU)
	require.NotNil(t, k.Telemetry)
	require.NotNil(t, k.DetCheck)
	require.NotNil(t, k.Verify)
	require.NotNil(t, k.Boot)
	require.NotNil(t, k.Audit)
}

func TestBindControlPort_EmitsBannerTelemetryAndAudit(t *testing.T) {
	k := New(testConfig(), nil)
	banner, bound := k.BindControlPort(7, []byte("sis.datactl"))
	require.True(t, bound)
	require.NotEmpty(t, banner)
	require.Equal(t, uint64(7), k.Telemetry.Get("ctl_selected_port"))
	require.Equal(t, uint64(1), k.Telemetry.Get("ctl_port_bound"))
	require.Equal(t, 1, k.Audit.Len())
}

func TestHandleWireFrame_CreateThenAddChannelUpdatesCounters(t *testing.T) {
	k := New(testConfig(), nil)

	createFrame := ctlplane.EncodeFrame(adminFrame(ctlplane.CmdCreate, 42, nil))
	reply, n := k.HandleWireFrame(createFrame, 0)
	require.Equal(t, "OK\n", string(reply))
	require.Equal(t, len(createFrame), n)

	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, 8)
	addFrame := ctlplane.EncodeFrame(adminFrame(ctlplane.CmdAddChannel, 42, payload))
	reply, _ = k.HandleWireFrame(addFrame, 100)
	require.Equal(t, "OK\n", string(reply))

	require.Equal(t, uint64(2), k.Telemetry.Get("ctl_frames_rx"))
	require.Equal(t, uint64(2), k.Telemetry.Get("ctl_frames_tx"))
	require.Equal(t, uint64(0), k.Telemetry.Get("ctl_errors"))
	require.Equal(t, 2, k.Audit.Len())
}

func TestHandleWireFrame_NoMagicByteReturnsNoReplyAndConsumesNothing(t *testing.T) {
	k := New(testConfig(), nil)
	reply, consumed := k.HandleWireFrame([]byte{0xFF, 0xFF, 0xFF}, 0)
	require.Nil(t, reply)
	require.Equal(t, 0, consumed)
}

func TestRegisterGraphServerAndTick_RunsGraphStep(t *testing.T) {
	k := New(testConfig(), nil)

	reply, _ := k.HandleWireFrame(ctlplane.EncodeFrame(adminFrame(ctlplane.CmdCreate, 42, nil)), 0)
	require.Equal(t, "OK\n", string(reply))

	cfgPayload := make([]byte, 24)
	binary.LittleEndian.PutUint64(cfgPayload[0:8], 1_000)
	binary.LittleEndian.PutUint64(cfgPayload[8:16], 10_000)
	binary.LittleEndian.PutUint64(cfgPayload[16:24], 9_000)
	reply, _ = k.HandleWireFrame(ctlplane.EncodeFrame(adminFrame(ctlplane.CmdConfigureDeterministic, 42, cfgPayload)), 0)
	require.Equal(t, "OK\n", string(reply))

	require.NoError(t, k.RegisterGraphServer(1))
	ran := k.Tick(0)
	require.True(t, ran)
}

func TestTick_NoActiveGraphReturnsFalse(t *testing.T) {
	k := New(testConfig(), nil)
	require.False(t, k.Tick(0))
}

func TestExportGraphJSONAndAuditJSON_EndWithDoneMarker(t *testing.T) {
	k := New(testConfig(), nil)
	var buf bytes.Buffer
	require.NoError(t, k.ExportGraphJSON(&buf))
	require.Contains(t, buf.String(), "done")

	buf.Reset()
	require.NoError(t, k.ExportAuditJSON(&buf))
	require.Contains(t, buf.String(), "done")
}

func TestWriteMetrics_ReflectsSetCounters(t *testing.T) {
	k := New(testConfig(), nil)
	k.Telemetry.Set("ctl_frames_rx", 3)
	var buf bytes.Buffer
	require.NoError(t, k.WriteMetrics(&buf))
	require.Contains(t, buf.String(), "METRIC ctl_frames_rx=3\n")
}

func TestApplyConfigChange_UpdatesTelemetryCadence(t *testing.T) {
	k := New(testConfig(), nil)
	k.ApplyConfigChange(config.Change{TelemetryCadenceMs: 250, AdminSecret: 99})
	require.Equal(t, uint64(250), k.Telemetry.Get("telemetry_cadence_ms"))
}
