package link

import (
	"golang.org/x/net/bpf"
)

const bpfAcceptLen = 0x40000

// wsmpProgram accepts WSMP frames, plain or behind one 802.1Q tag, and
// drops everything else.
var wsmpProgram = []bpf.Instruction{
	bpf.LoadAbsolute{Off: 12, Size: 2},                         // ethertype
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x88DC, SkipTrue: 3},  // wsmp -> accept
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x8100, SkipFalse: 3}, // not vlan -> drop
	bpf.LoadAbsolute{Off: 16, Size: 2},                         // inner ethertype
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x88DC, SkipFalse: 1}, // not wsmp -> drop
	bpf.RetConstant{Val: bpfAcceptLen},
	bpf.RetConstant{Val: 0},
}

// WSMPFilter assembles the kernel socket filter for WSMP traffic.
func WSMPFilter() ([]bpf.RawInstruction, error) {
	return bpf.Assemble(wsmpProgram)
}
