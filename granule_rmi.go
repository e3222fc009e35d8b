package rmm

import "fmt"

// RegisterGranuleHandlers installs VERSION and the granule delegation
// commands.
func RegisterGranuleHandlers(m *Mainloop) {
	m.ListenFunc(CmdVersion, version)
	m.ListenFunc(CmdGranuleDelegate, granuleDelegate)
	m.ListenFunc(CmdGranuleUndelegate, granuleUndelegate)
}

func version(ctx *Context, svc *Services) {
	ctx.SetStatus(StatusSuccess)
	ctx.Ret[1] = ABIVersion
}

func granuleDelegate(ctx *Context, svc *Services) {
	granuleMove(ctx, svc, GranuleUndelegated, GranuleDelegated)
}

func granuleUndelegate(ctx *Context, svc *Services) {
	granuleMove(ctx, svc, GranuleDelegated, GranuleUndelegated)
}

func granuleMove(ctx *Context, svc *Services, from, to GranuleState) {
	addr := ctx.Arg[0]
	if err := svc.Granules.Transition(addr, from, to); err != nil {
		svc.logger().WithError(err).WithField("granule", fmt.Sprintf("0x%x", addr)).
			Debugf("%v: transition refused", ctx.Cmd)
		ctx.SetStatus(StatusOf(err))
		return
	}
	ctx.SetStatus(StatusSuccess)
}
