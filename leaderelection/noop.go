package leaderelection

import (
	"context"
	"sync/atomic"
)

// NoopElector wins every campaign. It stands in for a single runner deployment.
type NoopElector struct {
	leader atomic.Bool
}

func (n *NoopElector) IsLeader() bool {
	return n.leader.Load()
}

func (n *NoopElector) Campaign(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.leader.Store(true)
	return nil
}

func (n *NoopElector) Resign(context.Context) error {
	n.leader.Store(false)
	return nil
}

func (n *NoopElector) Close() error {
	return nil
}
