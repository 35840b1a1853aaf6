package leaderelection

import (
	"context"

	"clashkit/utils"
)

// Elector decides which runner gets to rotate when several are scheduled at once.
type Elector interface {
	// IsLeader is true if the current node is a leader
	IsLeader() bool
	// Campaign blocks until the current node becomes the leader or ctx is done
	Campaign(ctx context.Context) error
	// Resign resigns the current node leadership status
	Resign(ctx context.Context) error
	// Close releases the connection backing the elector
	Close() error
}

// New returns an etcd backed elector, or a NoopElector when no etcd endpoints are configured.
func New(ctx context.Context, config *utils.Config, hostname string) (Elector, error) {
	if len(config.EtcdConfig.Endpoints) == 0 {
		return &NoopElector{}, nil
	}
	return NewRaftBasedLeaderElector(ctx, config, hostname)
}
