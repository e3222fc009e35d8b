package rmm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Call is one RMI request from the host.
type Call struct {
	CPU  int
	Cmd  Command
	Args [ArgCount]uint64
}

// Conn is the host call channel.
type Conn interface {
	// Recv blocks for the next call. It returns io.EOF once the host is gone.
	Recv(ctx context.Context) (Call, error)
	// Reply answers the call last returned by Recv.
	Reply(ctx context.Context, ret [RetCount]uint64) error
}

// Serve runs host calls until ctx is done or conn reports io.EOF. Each call
// is dispatched on the core it names and answered before the next is read.
func (m *Monitor) Serve(ctx context.Context, conn Conn) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		call, err := conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("rmm: recv: %w", err)
		}

		rctx := &Context{Cmd: call.Cmd, Arg: call.Args}
		cpu, err := m.CPU(call.CPU)
		if err != nil {
			m.log.WithError(err).Warn("serve: call for unknown cpu")
			rctx.SetStatus(StatusErrorInput)
		} else {
			cpu.HandleRMI(rctx)
		}

		if err := conn.Reply(ctx, rctx.Ret); err != nil {
			return fmt.Errorf("rmm: reply: %w", err)
		}
	}
}

// ChanConn is an in-process Conn. The host side uses Invoke and Close.
type ChanConn struct {
	calls   chan Call
	replies chan [RetCount]uint64

	once sync.Once
	done chan struct{}
}

// NewChanConn creates an unbuffered host channel.
func NewChanConn() *ChanConn {
	return &ChanConn{
		calls:   make(chan Call),
		replies: make(chan [RetCount]uint64),
		done:    make(chan struct{}),
	}
}

// Recv implements Conn.
func (c *ChanConn) Recv(ctx context.Context) (Call, error) {
	select {
	case <-ctx.Done():
		return Call{}, ctx.Err()
	case <-c.done:
		return Call{}, io.EOF
	case call := <-c.calls:
		return call, nil
	}
}

// Reply implements Conn.
func (c *ChanConn) Reply(ctx context.Context, ret [RetCount]uint64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.replies <- ret:
		return nil
	}
}

// Invoke sends call to the monitor and waits for its result.
func (c *ChanConn) Invoke(ctx context.Context, call Call) ([RetCount]uint64, error) {
	var ret [RetCount]uint64
	select {
	case <-ctx.Done():
		return ret, ctx.Err()
	case <-c.done:
		return ret, io.ErrClosedPipe
	case c.calls <- call:
	}
	select {
	case <-ctx.Done():
		return ret, ctx.Err()
	case ret = <-c.replies:
		return ret, nil
	}
}

// Close ends the session; the monitor's Serve returns once it sees it.
func (c *ChanConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
