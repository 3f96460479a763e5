package slide

import (
	"context"

	"github.com/Supple-build/slidebridge/internal/slideapi"
)

// Gateway is the device side of a session: one status read and two commands.
type Gateway interface {
	FetchStatus(ctx context.Context) (slideapi.Status, error)
	CommandPosition(ctx context.Context, position float64) error
	Stop(ctx context.Context) error
}

var _ Gateway = &slideapi.Gateway{}

// PoolProxy bounds the number of gateway calls in flight across every
// session sharing the same pool.
type PoolProxy struct {
	g Gateway
	c chan struct{}
}

func NewPoolProxy(g Gateway, pool chan struct{}) *PoolProxy {
	return &PoolProxy{g: g, c: pool}
}

func (p *PoolProxy) acquire(ctx context.Context) error {
	select {
	case p.c <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PoolProxy) release() {
	<-p.c
}

func (p *PoolProxy) FetchStatus(ctx context.Context) (slideapi.Status, error) {
	if err := p.acquire(ctx); err != nil {
		return slideapi.Status{}, err
	}
	defer p.release()

	return p.g.FetchStatus(ctx)
}

func (p *PoolProxy) CommandPosition(ctx context.Context, position float64) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	return p.g.CommandPosition(ctx, position)
}

func (p *PoolProxy) Stop(ctx context.Context) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	return p.g.Stop(ctx)
}
