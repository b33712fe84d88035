package target

import (
	"context"

	"github.com/juju/errors"
)

// Signals reported by HaltWait, as seen by the GDB layer.
const (
	SIGINT  = 2
	SIGTRAP = 5
	SIGSEGV = 11
	SIGLOST = 29
)

// ErrNoBreakSlot is returned by SetHWBreak when all comparators are in use.
var ErrNoBreakSlot = errors.New("no free hardware breakpoint slots")

// ErrUnknownBreak is returned by ClearHWBreak for an address that has no
// armed comparator.
var ErrUnknownBreak = errors.New("no hardware breakpoint at address")

// Target is a debuggable core behind a probe. All operations assume
// exclusive, sequential use by a single debug session.
type Target interface {
	// Driver returns a human-readable driver name.
	Driver() string
	// TDesc returns the GDB target description XML.
	TDesc() string

	// Attach halts the core and arms halting debug mode.
	Attach(ctx context.Context) error
	// Detach resumes the core and disarms debug mode.
	Detach(ctx context.Context) error

	// CheckError reports whether a memory fault or transport error was
	// accumulated since the last call, clearing the fault as a side effect.
	CheckError(ctx context.Context) bool

	// MemRead fills data from target memory at addr (virtual).
	MemRead(ctx context.Context, data []byte, addr uint32) error
	// MemWrite stores data to target memory at addr (virtual).
	MemWrite(ctx context.Context, addr uint32, data []byte) error

	// RegsRead copies the cached register file into data (RegsSize bytes).
	// Valid only while the core is halted.
	RegsRead(ctx context.Context, data []byte) error
	// RegsWrite updates the cached register file; the cache is flushed to
	// the core on resume or detach.
	RegsWrite(ctx context.Context, data []byte) error
	RegsSize() int

	// Reset performs the platform reset sequence and reattaches.
	Reset(ctx context.Context) error

	// HaltRequest asks the core to halt; completion is observed via HaltWait.
	HaltRequest(ctx context.Context) error
	// HaltWait polls for a halt. 0 means still running; otherwise one of
	// the SIG* values above.
	HaltWait(ctx context.Context) (int, error)
	// HaltResume restarts the core, single-stepping one instruction if
	// step is set.
	HaltResume(ctx context.Context, step bool) error

	// SetHWBreak arms a hardware breakpoint; length is 2 (Thumb) or 4 (ARM).
	SetHWBreak(ctx context.Context, addr uint32, length uint8) error
	// ClearHWBreak disarms a previously set breakpoint.
	ClearHWBreak(ctx context.Context, addr uint32, length uint8) error
}
