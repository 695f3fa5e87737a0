package ctlplane

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sis-kernel/core/internal/kernel/arena"
	"github.com/sis-kernel/core/internal/kernel/graph"
)

// sentinelNone is the "no channel" marker for AddOperator payload fields,
// per spec.md §4.9.
const sentinelNone = 0xFFFF

// Counters holds the ctl_* telemetry surface (spec.md §4.9/§4.10).
type Counters struct {
	FramesRx           uint64
	FramesTx           uint64
	Errors             uint64
	BackpressureDrops  uint64
	RoundtripUs        uint64
}

// Dispatcher authenticates and executes V0 control frames against a single
// active graph, mirroring the one-port-one-graph model the original
// firmware binds over its sis.datactl virtio-console port.
type Dispatcher struct {
	secret      uint64
	arenaSize   int
	nextGraphID uint64

	graph *graph.Graph

	counters Counters
	log      *logrus.Logger

	// NowNs, when set, supplies the clock used for ctl_roundtrip_us
	// measurement; when nil, ctl_roundtrip_us is not measured.
	NowNs func() int64
}

// NewDispatcher constructs a Dispatcher requiring secret to match incoming
// tokens and allocating arenaSize bytes for any graph it creates.
func NewDispatcher(secret uint64, arenaSize int, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{secret: secret, arenaSize: arenaSize, log: log}
}

// Counters returns a snapshot of the control-plane telemetry counters.
func (d *Dispatcher) Counters() Counters { return d.counters }

// Graph returns the active graph, if one has been created.
func (d *Dispatcher) Graph() (*graph.Graph, bool) { return d.graph, d.graph != nil }

// HandleFrame authenticates and dispatches a single decoded frame, returning
// the wire bytes to write back to the transport ("OK\n" or "ERR 0xNN\n").
// arrivalNs is the timestamp the frame was received; it is compared against
// d.NowNs at completion to publish ctl_roundtrip_us.
func (d *Dispatcher) HandleFrame(f Frame, arrivalNs int64) []byte {
	d.counters.FramesRx++
	defer func() {
		if d.NowNs != nil {
			elapsedNs := d.NowNs() - arrivalNs
			if elapsedNs > 0 {
				d.counters.RoundtripUs = uint64(elapsedNs) / 1000
			}
		}
	}()

	required, known := RequiredRights(f.Cmd)
	if !known {
		return d.reject(ErrUnsupported, "unknown command")
	}
	if f.Token.Secret() != d.secret || !f.Token.HasRight(required) {
		return d.reject(ErrAuthFailed, "rights or secret mismatch")
	}

	var err error
	switch f.Cmd {
	case CmdCreate:
		err = d.handleCreate()
	case CmdAddChannel:
		err = d.handleAddChannel(f.Payload)
	case CmdAddOperator:
		err = d.handleAddOperator(f.Payload)
	case CmdStart:
		err = d.handleStart(f.Payload)
	case CmdConfigureDeterministic:
		err = d.handleConfigureDeterministic(f.Payload)
	default:
		return d.reject(ErrUnsupported, "reserved command")
	}
	if err != nil {
		if fe, ok := err.(*frameError); ok {
			return d.reject(fe.code, fe.Error())
		}
		return d.reject(ErrBadFrame, err.Error())
	}

	d.counters.FramesTx++
	return []byte("OK\n")
}

func (d *Dispatcher) reject(code ErrCode, reason string) []byte {
	d.counters.Errors++
	d.log.WithFields(logrus.Fields{"code": fmt.Sprintf("0x%02X", uint8(code)), "reason": reason}).Warn("ctlplane: rejecting frame")
	d.counters.FramesTx++
	return []byte(fmt.Sprintf("ERR 0x%02X\n", uint8(code)))
}

func (d *Dispatcher) handleCreate() error {
	d.nextGraphID++
	d.graph = graph.New(d.nextGraphID, d.arenaSize)
	return nil
}

func (d *Dispatcher) handleAddChannel(payload []byte) error {
	if d.graph == nil {
		return &frameError{ErrNoGraph, fmt.Errorf("ctlplane: add_channel requires an active graph")}
	}
	if len(payload) < 2 {
		return &frameError{ErrBadFrame, fmt.Errorf("ctlplane: add_channel payload too short")}
	}
	capacity := binary.LittleEndian.Uint16(payload[0:2])
	_, err := d.graph.AddChannel(int(capacity))
	if err != nil {
		return &frameError{ErrBadFrame, err}
	}
	return nil
}

func (d *Dispatcher) handleAddOperator(payload []byte) error {
	if d.graph == nil {
		return &frameError{ErrNoGraph, fmt.Errorf("ctlplane: add_operator requires an active graph")}
	}
	if len(payload) < 18 {
		return &frameError{ErrBadFrame, fmt.Errorf("ctlplane: add_operator payload too short")}
	}
	_ = binary.LittleEndian.Uint32(payload[0:4]) // id: advisory, the graph assigns its own
	in := binary.LittleEndian.Uint16(payload[4:6])
	out := binary.LittleEndian.Uint16(payload[6:8])
	prio := payload[8]
	_ = payload[9] // stage: informational, not required to schedule
	inSchema := binary.LittleEndian.Uint32(payload[10:14])
	outSchema := binary.LittleEndian.Uint32(payload[14:18])

	spec := graph.OperatorSpec{Priority: prio}
	if in != sentinelNone {
		ch := uint32(in)
		spec.InCh = &ch
	}
	if out != sentinelNone {
		ch := uint32(out)
		spec.OutCh = &ch
	}
	if inSchema != 0 {
		spec.InSchema = &inSchema
	}
	if outSchema != 0 {
		spec.OutSchema = &outSchema
	}
	// The wire protocol cannot carry a function pointer; operators added
	// over the control plane are no-ops until bound in-process. This
	// matches spec.md's scope: §4.9 governs structural commands only.
	spec.Func = func(a *arena.Arena, in *arena.Handle) (*arena.Handle, error) { return nil, nil }

	_, err := d.graph.AddOperator(spec)
	if err != nil {
		return &frameError{ErrBadFrame, err}
	}
	return nil
}

func (d *Dispatcher) handleStart(payload []byte) error {
	if d.graph == nil {
		return &frameError{ErrNoGraph, fmt.Errorf("ctlplane: start requires an active graph")}
	}
	if len(payload) < 4 {
		return &frameError{ErrBadFrame, fmt.Errorf("ctlplane: start payload too short")}
	}
	steps := binary.LittleEndian.Uint32(payload[0:4])
	d.graph.RunSteps(int(steps))
	return nil
}

func (d *Dispatcher) handleConfigureDeterministic(payload []byte) error {
	if d.graph == nil {
		return &frameError{ErrNoGraph, fmt.Errorf("ctlplane: configure_deterministic requires an active graph")}
	}
	if len(payload) < 24 {
		return &frameError{ErrBadFrame, fmt.Errorf("ctlplane: configure_deterministic payload too short")}
	}
	wcetNs := binary.LittleEndian.Uint64(payload[0:8])
	periodNs := binary.LittleEndian.Uint64(payload[8:16])
	deadlineNs := binary.LittleEndian.Uint64(payload[16:24])
	d.graph.ConfigureDeterministic(wcetNs, periodNs, deadlineNs)
	return nil
}
