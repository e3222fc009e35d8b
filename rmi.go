package rmm

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Command is an RMI function id.
type Command uint64

// RMI commands
const (
	CmdVersion           Command = 0xC4000150
	CmdGranuleDelegate   Command = 0xC4000151
	CmdGranuleUndelegate Command = 0xC4000152
	CmdRealmActivate     Command = 0xC4000157
	CmdRealmCreate       Command = 0xC4000158
	CmdRealmDestroy      Command = 0xC4000159
	CmdRecAuxCount       Command = 0xC4000167
)

var commandNames = map[Command]string{
	CmdVersion:           "VERSION",
	CmdGranuleDelegate:   "GRANULE_DELEGATE",
	CmdGranuleUndelegate: "GRANULE_UNDELEGATE",
	CmdRealmActivate:     "REALM_ACTIVATE",
	CmdRealmCreate:       "REALM_CREATE",
	CmdRealmDestroy:      "REALM_DESTROY",
	CmdRecAuxCount:       "REC_AUX_COUNT",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%#x)", uint64(c))
}

// ParseCommand resolves a command name such as "REALM_CREATE".
func ParseCommand(name string) (Command, error) {
	for cmd, n := range commandNames {
		if n == name {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("rmm: unknown command %q", name)
}

// ABI constants
const (
	// ArgCount is the number of argument registers (x1..x6).
	ArgCount = 6
	// RetCount is the number of return registers (x0..x4).
	RetCount = 5

	// ABIVersion is reported by VERSION as 1.0: major in bits [30:16],
	// minor in bits [15:0].
	ABIVersion = 1 << 16

	// MaxRecAuxGranules is the number of auxiliary granules a REC may need.
	MaxRecAuxGranules = 16
)

// Context carries one RMI invocation: the command, its arguments and the
// return slots. Ret[0] always receives a Status.
type Context struct {
	Cmd Command
	Arg [ArgCount]uint64
	Ret [RetCount]uint64
}

// NewContext creates a context for cmd with the given arguments.
func NewContext(cmd Command, args ...uint64) *Context {
	ctx := &Context{Cmd: cmd}
	copy(ctx.Arg[:], args)
	return ctx
}

// Status returns the status written into Ret[0].
func (c *Context) Status() Status { return Status(c.Ret[0]) }

// SetStatus writes the status slot.
func (c *Context) SetStatus(s Status) { c.Ret[0] = uint64(s) }

// Services are the monitor-wide collaborators a handler may use.
type Services struct {
	RMI      Driver
	MM       Mapper
	Granules *GranuleTable
	Log      logrus.FieldLogger
}

// Handler services one RMI command.
type Handler interface {
	Invoke(ctx *Context, svc *Services)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *Context, svc *Services)

// Invoke calls f(ctx, svc).
func (f HandlerFunc) Invoke(ctx *Context, svc *Services) { f(ctx, svc) }

// Mainloop is the RMI dispatch table. Handlers are registered once at boot and
// the table is read-only afterwards, so every CPU may dispatch concurrently.
type Mainloop struct {
	handlers map[Command]Handler
}

// NewMainloop returns an empty dispatch table.
func NewMainloop() *Mainloop {
	return &Mainloop{handlers: make(map[Command]Handler)}
}

// Listen registers h for cmd. Registering a command twice is a boot-time
// programming error and panics.
func (m *Mainloop) Listen(cmd Command, h Handler) {
	if h == nil {
		panic(fmt.Sprintf("rmm: nil handler for %v", cmd))
	}
	if _, dup := m.handlers[cmd]; dup {
		panic(fmt.Sprintf("rmm: duplicate handler for %v", cmd))
	}
	m.handlers[cmd] = h
}

// ListenFunc registers f for cmd.
func (m *Mainloop) ListenFunc(cmd Command, f func(ctx *Context, svc *Services)) {
	m.Listen(cmd, HandlerFunc(f))
}

// Commands returns the number of registered commands.
func (m *Mainloop) Commands() int { return len(m.handlers) }

// Dispatch runs the handler registered for ctx.Cmd to completion. Unknown
// commands report StatusFail.
func (m *Mainloop) Dispatch(ctx *Context, svc *Services) {
	start := time.Now()
	log := svc.logger().WithField("cmd", ctx.Cmd)

	h, ok := m.handlers[ctx.Cmd]
	if !ok {
		log.WithError(ErrUnknownCommand).Warn("rmi: no handler registered")
		ctx.Ret = [RetCount]uint64{}
		ctx.SetStatus(StatusOf(ErrUnknownCommand))
	} else {
		// A handler only sets the slots it uses.
		ctx.Ret = [RetCount]uint64{}
		h.Invoke(ctx, svc)
	}

	status := ctx.Status()
	recordRMICall(status, time.Since(start))
	log.WithFields(logrus.Fields{
		"args":   fmt.Sprintf("%#x", ctx.Arg),
		"status": status,
	}).Debug("rmi: call complete")
}

func (s *Services) logger() logrus.FieldLogger {
	if s == nil || s.Log == nil {
		return discardLogger
	}
	return s.Log
}
