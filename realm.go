package rmm

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RegisterRealmHandlers installs the realm lifecycle commands.
func RegisterRealmHandlers(m *Mainloop) {
	m.ListenFunc(CmdRealmActivate, realmActivate)
	m.ListenFunc(CmdRealmCreate, realmCreate)
	m.ListenFunc(CmdRecAuxCount, recAuxCount)
	m.ListenFunc(CmdRealmDestroy, realmDestroy)
}

// NewRMIMainloop returns a mainloop with every supported command registered.
func NewRMIMainloop() *Mainloop {
	m := NewMainloop()
	RegisterGranuleHandlers(m)
	RegisterRealmHandlers(m)
	return m
}

func realmActivate(ctx *Context, svc *Services) {
	// Realms are runnable as soon as they are created.
	ctx.SetStatus(StatusSuccess)
}

func recAuxCount(ctx *Context, svc *Services) {
	ctx.SetStatus(StatusSuccess)
	ctx.Ret[1] = MaxRecAuxGranules
}

// realmCreate: arg0 is the RD granule, arg1 the parameter block.
func realmCreate(ctx *Context, svc *Services) {
	rdAddr, paramsAddr := ctx.Arg[0], ctx.Arg[1]
	log := svc.logger().WithFields(logrus.Fields{
		"granule": fmt.Sprintf("0x%x", rdAddr),
		"params":  fmt.Sprintf("0x%x", paramsAddr),
	})

	if err := svc.MM.Map(paramsAddr, false); err != nil {
		log.WithError(err).Debug("realm create: map params")
		ctx.SetStatus(StatusErrorInput)
		return
	}
	defer func() {
		if err := svc.MM.Unmap(paramsAddr); err != nil {
			log.WithError(err).Warn("realm create: unmap params")
		}
	}()

	delegated, err := takeDelegated(svc.Granules, rdAddr)
	if err != nil {
		log.WithError(err).Debug("realm create: rd granule")
		ctx.SetStatus(StatusErrorInput)
		return
	}
	restore := func() {
		if !delegated {
			return
		}
		if err := svc.Granules.Transition(rdAddr, GranuleDelegated, GranuleUndelegated); err != nil {
			log.WithError(err).Warn("realm create: restore rd granule")
		}
	}

	params, err := ParseParams(svc.MM, paramsAddr)
	if err != nil {
		log.WithError(err).Debug("realm create: parse params")
		restore()
		ctx.SetStatus(StatusErrorInput)
		return
	}

	id, err := svc.RMI.CreateRealm()
	if err != nil {
		log.WithError(err).Warn("realm create: allocate realm id")
		restore()
		ctx.SetStatus(StatusFail)
		return
	}

	rd, err := NewRd(svc.Granules, rdAddr, id)
	if err != nil {
		log.WithError(err).Debug("realm create: stamp rd")
		if rerr := svc.RMI.Remove(id); rerr != nil {
			log.WithError(rerr).Warn("realm create: release realm id")
		}
		restore()
		ctx.SetStatus(StatusErrorInput)
		return
	}

	recordRealmCreate()
	log.WithFields(logrus.Fields{
		"realm":     id,
		"vmid":      params.VMID,
		"hash_algo": params.HashAlgo,
	}).Debugf("realm created: %v", rd)

	ctx.SetStatus(StatusSuccess)
	ctx.Ret[1] = id
}

// takeDelegated moves the granule at addr from Undelegated to Delegated, or
// accepts it if it is already Delegated. delegated reports whether this call
// performed the move.
func takeDelegated(t *GranuleTable, addr uint64) (delegated bool, err error) {
	err = t.Transition(addr, GranuleUndelegated, GranuleDelegated)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrWrongState) {
		return false, err
	}
	s, serr := t.State(addr)
	if serr != nil {
		return false, serr
	}
	if s != GranuleDelegated {
		return false, err
	}
	return false, nil
}

// realmDestroy: arg0 is the RD granule.
func realmDestroy(ctx *Context, svc *Services) {
	rdAddr := ctx.Arg[0]
	log := svc.logger().WithField("granule", fmt.Sprintf("0x%x", rdAddr))

	rd, err := RdFromGranule(svc.Granules, rdAddr)
	if err != nil {
		log.WithError(err).Debug("realm destroy: not a realm descriptor")
		ctx.SetStatus(StatusErrorInput)
		return
	}
	id, _ := rd.RealmID()

	if err := rd.Destroy(); err != nil {
		log.WithError(err).Debug("realm destroy: rd")
		ctx.SetStatus(StatusErrorInput)
		return
	}

	status := StatusSuccess
	if err := svc.RMI.Remove(id); err != nil {
		log.WithError(err).WithField("realm", id).Warn("realm destroy: release realm id")
		status = StatusFail
	}

	if err := svc.Granules.Transition(rdAddr, GranuleDelegated, GranuleUndelegated); err != nil {
		log.WithError(err).Debug("realm destroy: undelegate")
		ctx.SetStatus(StatusErrorInput)
		return
	}

	recordRealmDestroy()
	log.WithField("realm", id).Debug("realm destroyed")
	ctx.SetStatus(status)
}
