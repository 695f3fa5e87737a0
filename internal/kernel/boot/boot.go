// Package boot implements spec.md §6's control-plane attach handshake: when
// the host opens a port named sis.datactl, the runtime emits a fixed banner
// line and starts accepting V0 frames. It is grounded on
// original_source's virtio_console.rs poll_ctrl_events, which scans an
// incoming PortName control event for the sis.datactl substring before
// binding (ctl_selected_port / ctl_port_bound metrics, "[VCON] BOUND port to
// sis.datactl" banner) — translated here into a plain substring match since
// the kernel core has no virtio ring of its own to poll.
package boot

import "bytes"

// BootToDataBanner is spec.md §6's literal banner text for the control-plane
// port-bind event. (original_source's firmware emits the similar but not
// identical "[VCON] BOUND port to sis.datactl"; spec.md's wording is
// authoritative here.)
const BootToDataBanner = "[VCON] BOOT-TO-DATA port bound"

// controlPortName is the virtio-console multiport name the host must open to
// reach the control plane.
const controlPortName = "sis.datactl"

// MatchesControlPort reports whether name (as received in a PortName
// control event, NUL-padded or not) names the control-data port.
func MatchesControlPort(name []byte) bool {
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return bytes.Contains(name, []byte(controlPortName))
}

// PortBind tracks whether the control-plane port has been bound and reports
// the banner line to emit the first time a matching port name arrives.
type PortBind struct {
	bound  bool
	portID uint32
}

// Bound reports whether a port has been bound, and if so, which id.
func (p *PortBind) Bound() (uint32, bool) { return p.portID, p.bound }

// TryBind inspects a PortName event's raw name bytes; if it matches the
// control-data port and no port is yet bound, it binds portID and returns
// the banner line to emit. Subsequent PortName events after binding are
// ignored (spec.md describes a single control port per transport).
func (p *PortBind) TryBind(portID uint32, name []byte) (banner string, bound bool) {
	if p.bound {
		return "", false
	}
	if !MatchesControlPort(name) {
		return "", false
	}
	p.bound = true
	p.portID = portID
	return BootToDataBanner, true
}
