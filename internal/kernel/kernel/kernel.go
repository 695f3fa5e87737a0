// Package kernel wires the component packages (arena/graph via ctlplane,
// edf/cbs/scheduler, admission, npu, telemetry, detcheck, verify, boot,
// audit, config) into the single cohesive entity the host control plane and
// cmd/kerneld talk to. Its construction style — one New that builds every
// subsystem from a config struct and exposes narrow methods over them —
// follows the teacher's cmd/root.go "build the simulator, then drive it"
// shape, generalized from a one-shot batch run to a long-lived control-plane
// server.
package kernel

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sis-kernel/core/internal/kernel/admission"
	"github.com/sis-kernel/core/internal/kernel/audit"
	"github.com/sis-kernel/core/internal/kernel/boot"
	"github.com/sis-kernel/core/internal/kernel/cbs"
	"github.com/sis-kernel/core/internal/kernel/config"
	"github.com/sis-kernel/core/internal/kernel/ctlplane"
	"github.com/sis-kernel/core/internal/kernel/detcheck"
	"github.com/sis-kernel/core/internal/kernel/irq"
	"github.com/sis-kernel/core/internal/kernel/npu"
	"github.com/sis-kernel/core/internal/kernel/scheduler"
	"github.com/sis-kernel/core/internal/kernel/telemetry"
	"github.com/sis-kernel/core/internal/kernel/verify"
)

// maxLoopIterations is the loop-iteration bound the kernel's detcheck
// Enforcer is constructed with, per spec.md §1's "no unbounded loops"
// non-goal; detcheck.CheckLoopIteration reports against it, though nothing
// in this package calls it.
const maxLoopIterations = 10_000

// maxIrqSamples bounds the IRQ-latency ring, mirroring the bounded-ring
// sizing spec.md §6 uses for jitter/completion sample buffers.
const maxIrqSamples = 256

// Kernel is the top-level runtime: one active graph behind the control
// plane, one CBS+EDF scheduler core, one admission ledger, one NPU manager,
// and the cross-cutting telemetry/detcheck/verify/audit/boot surfaces all of
// those report through.
type Kernel struct {
	cfg *config.KernelConfig
	log *logrus.Logger

	Dispatcher *ctlplane.Dispatcher
	Scheduler  *scheduler.Core
	Admission  *admission.Controller
	NPU        *npu.Manager
	Telemetry  *telemetry.Registry
	DetCheck   *detcheck.Enforcer
	Verify     *verify.Hooks
	Boot       *boot.PortBind
	Audit      *audit.Ring
	IRQ        *irq.Ring

	graphServerID uint64 // CBS server id backing the active ctlplane graph
}

// New builds a Kernel from cfg. A zero-value field in cfg falls back to the
// package defaults spec.md names for that constant.
func New(cfg *config.KernelConfig, log *logrus.Logger) *Kernel {
	if log == nil {
		log = logrus.New()
	}

	timerHz := cfg.TimerHz
	if timerHz == 0 {
		timerHz = admission.TimerHz
	}
	arenaBytes := int(cfg.ArenaBytes)
	if arenaBytes == 0 {
		arenaBytes = config.DefaultArenaBytes
	}
	maxServers := int(cfg.MaxServers)
	if maxServers == 0 {
		maxServers = config.DefaultMaxServers
	}

	ac := admission.New(cfg.AdmissionBoundPpm)
	shim := npu.NewDefaultShim(timerHz)

	return &Kernel{
		cfg:        cfg,
		log:        log,
		Dispatcher: ctlplane.NewDispatcher(cfg.Token.Secret, arenaBytes, log),
		Scheduler:  scheduler.New(maxServers),
		Admission:  ac,
		NPU:        npu.NewManager(ac, shim, timerHz),
		Telemetry:  telemetry.NewRegistry(),
		DetCheck:   detcheck.NewEnforcer(maxLoopIterations),
		Verify:     &verify.Hooks{},
		Boot:       &boot.PortBind{},
		Audit:      audit.NewRing(256),
		IRQ:        irq.NewRing(maxIrqSamples),
	}
}

// RecordInterrupt runs the OpInterruptEntry/OpInterruptExit verification
// hooks around a simulated interrupt and appends its latency to the IRQ
// ring, republishing irq_latency_p99_ns. The kernel core has no real
// interrupt controller (out of scope per spec.md §1); callers simulate the
// timer interrupt that would otherwise drive the scheduler tick.
func (k *Kernel) RecordInterrupt(latencyNs int64) {
	k.Verify.Run(verify.OpInterruptEntry, true, verify.Config{PerformanceTracking: true}, func() {})
	k.IRQ.Append(latencyNs)
	k.Verify.Run(verify.OpInterruptExit, true, verify.Config{PerformanceTracking: true}, func() {})
	k.Telemetry.Set("irq_latency_p99_ns", uint64(k.IRQ.P99Ns()))
}

// BindControlPort attempts to bind the control-data port, emitting the
// boot-to-data banner and telemetry/audit records on the first match.
func (k *Kernel) BindControlPort(portID uint32, name []byte) (banner string, bound bool) {
	banner, bound = k.Boot.TryBind(portID, name)
	if !bound {
		return banner, bound
	}
	k.Telemetry.Set("ctl_selected_port", uint64(portID))
	k.Telemetry.Set("ctl_port_bound", 1)
	k.Audit.Record(audit.Entry{Op: "bind_port", Status: "ok", Detail: banner})
	return banner, bound
}

// HandleWireFrame skips any bytes before the next magic byte (ctlplane.SkipToMagic's
// resynchronization rule, matching spec.md §6), decodes a single V0 frame
// there, dispatches it, and returns the reply bytes plus the number of bytes
// consumed from buf (skipped bytes included) so the caller can advance its
// read cursor. A decode failure still returns a reply (an ERR line) and
// consumes the skipped bytes plus the failed magic byte, so the next call
// resynchronizes on the following magic byte. A buffer with no magic byte
// yields no reply and consumed=0.
func (k *Kernel) HandleWireFrame(buf []byte, arrivalNs int64) (reply []byte, consumed int) {
	synced := ctlplane.SkipToMagic(buf)
	if len(synced) == 0 {
		return nil, 0
	}
	skipped := len(buf) - len(synced)
	f, n, err := ctlplane.ParseFrame(synced)
	if err != nil {
		k.Audit.Record(audit.Entry{TsNs: arrivalNs, Op: "parse_frame", Status: "error", Detail: err.Error()})
		return []byte(fmt.Sprintf("ERR 0x%02X\n", errCode(err))), skipped + 1
	}
	reply = k.Dispatcher.HandleFrame(f, arrivalNs)
	k.syncCtlCounters()
	k.Audit.Record(audit.Entry{TsNs: arrivalNs, Op: fmt.Sprintf("cmd_0x%02X", uint8(f.Cmd)), Status: string(reply[:2]), Detail: ""})
	return reply, skipped + n
}

func errCode(err error) uint8 {
	type coder interface{ Code() ctlplane.ErrCode }
	if c, ok := err.(coder); ok {
		return uint8(c.Code())
	}
	return uint8(ctlplane.ErrBadFrame)
}

func (k *Kernel) syncCtlCounters() {
	c := k.Dispatcher.Counters()
	k.Telemetry.Set("ctl_frames_rx", c.FramesRx)
	k.Telemetry.Set("ctl_frames_tx", c.FramesTx)
	k.Telemetry.Set("ctl_errors", c.Errors)
	k.Telemetry.Set("ctl_backpressure_drops", c.BackpressureDrops)
	k.Telemetry.Set("ctl_roundtrip_us", c.RoundtripUs)
}

// RegisterGraphServer creates a CBS server bound to the dispatcher's active
// graph, with the graph's own deterministic budget/period/deadline as the
// server's provisioning, and registers it with the scheduler. Call this
// after a ConfigureDeterministic control frame has landed.
func (k *Kernel) RegisterGraphServer(serverID uint64) error {
	g, ok := k.Dispatcher.Graph()
	if !ok {
		return fmt.Errorf("kernel: no active graph to schedule")
	}
	s := cbs.New(serverID, g.ID, g.WCETNs, g.PeriodNs)
	k.Scheduler.AddServer(s)
	k.graphServerID = serverID
	return nil
}

// Tick drives one scheduling decision: it asks the scheduler core for the
// next eligible graph, runs one step of that graph if it is the
// control-plane's active graph, and reports completion back to the
// scheduler for budget/jitter accounting. It returns false when nothing was
// eligible to run.
func (k *Kernel) Tick(nowNs int64) bool {
	graphID, ok := k.Scheduler.ScheduleNext(nowNs)
	if !ok {
		return false
	}
	g, active := k.Dispatcher.Graph()
	if !active || g.ID != graphID {
		return false
	}

	result := k.Verify.Run(verify.OpContextSwitch, true, verify.Config{
		PreConditions:       true,
		PostConditions:      true,
		PerformanceTracking: true,
	}, func() {
		g.RunSteps(1)
	})
	if result != verify.ResultSuccess {
		k.Telemetry.Add("verification_failures", 1)
	}
	if result == verify.ResultInvariantViolation && !g.Deterministic {
		k.Verify.Panic("context_switch invariant violation outside deterministic region")
	}

	k.DetCheck.CheckAllocation()
	k.Scheduler.CompleteExecution(graphID, int64(g.WCETNs), int64(g.WCETNs))
	k.Telemetry.Set("deterministic_deadline_miss_count", k.Scheduler.DeadlineMissCount())
	k.Telemetry.Set("deterministic_jitter_p99_ns", k.Scheduler.JitterP99Ns())
	return true
}

// ProcessAiJobs drains NPU completions, republishes ai_* telemetry, and
// records one audit entry per completion keyed by the shim's external job
// identifier (audit_json's durable record of which job is which, since the
// internal uint64 job id is only ever meaningful within a single run).
func (k *Kernel) ProcessAiJobs(nowNs int64) []npu.Completion {
	completions := k.NPU.ProcessAiJobs(nowNs)
	k.Telemetry.Set("ai_inference_deadline_misses", k.NPU.AiInferenceDeadlineMisses())
	k.Telemetry.Set("ai_inference_p99_cycles", k.NPU.AiInferenceP99Cycles())
	for _, c := range completions {
		status := "ok"
		if c.CompletedAtNs > c.DeadlineNs {
			status = "deadline_miss"
		}
		k.Audit.Record(audit.Entry{TsNs: c.CompletedAtNs, Op: "ai_complete", Status: status, Detail: c.ExternalID})
	}
	return completions
}

// ExportGraphJSON writes the active graph's graph_json document, or an
// empty document if no graph has been created yet.
func (k *Kernel) ExportGraphJSON(w io.Writer) error {
	export := telemetry.GraphExport{Stats: map[string]uint64{}}
	g, ok := k.Dispatcher.Graph()
	if ok {
		export.Stats["deadline_miss_count"] = g.DeadlineMissCount()
		export.Stats["schema_mismatch_count"] = g.SchemaMismatchCount()
		for id := uint32(0); id < uint32(g.OperatorCount()); id++ {
			op, found := g.Operator(id)
			if !found {
				continue
			}
			export.Ops = append(export.Ops, telemetry.OperatorExport{
				ID: op.ID, Stage: uint8(op.Stage), Prio: op.Priority,
				In: op.InCh, Out: op.OutCh,
				Runs: op.Stats.Runs, TotalNs: op.Stats.TotalNs,
				P50Ns: op.Stats.P50(), P95Ns: op.Stats.P95(), P99Ns: op.Stats.P99(),
			})
		}
	}
	return telemetry.WriteGraphJSON(w, export)
}

// ExportAuditJSON writes the audit ring's retained entries as audit_json.
func (k *Kernel) ExportAuditJSON(w io.Writer) error {
	entries := k.Audit.Entries()
	out := make([]telemetry.AuditEntry, len(entries))
	for i, e := range entries {
		out[i] = telemetry.AuditEntry{TsNs: e.TsNs, Op: e.Op, Status: e.Status, Detail: e.Detail}
	}
	return telemetry.WriteAuditJSON(w, out)
}

// WriteMetrics writes all accumulated METRIC lines to w.
func (k *Kernel) WriteMetrics(w io.Writer) error {
	return k.Telemetry.WriteMetricLines(w)
}

// ApplyConfigChange applies a hot-reloaded config.Change: only the
// non-safety-critical fields it carries are ever touched here. The
// telemetry cadence is republished; a nonzero AdminSecret is only logged,
// and the dispatcher keeps the secret it was constructed with.
func (k *Kernel) ApplyConfigChange(change config.Change) {
	if change.AdminSecret != 0 {
		k.log.WithField("secret_rotated", false).Info("kernel: hot-reloaded config carries an admin token secret; dispatcher secret unchanged")
	}
	k.Telemetry.Set("telemetry_cadence_ms", change.TelemetryCadenceMs)
}
