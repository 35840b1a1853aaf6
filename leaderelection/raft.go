package leaderelection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coreos/etcd/clientv3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/clientv3/concurrency"

	"clashkit/utils"
)

// this pkg uses a raft based leader election using etcd wrapper

const (
	Leader    int32 = 1
	Candidate int32 = 0

	// sessionTTL bounds how long a crashed leader keeps the election key, in seconds
	sessionTTL = 30
)

type RaftLeaderElector struct {
	leadershipStatus int32

	cli         *clientv3.Client
	electionKey string
	hostname    string

	mu              sync.Mutex
	electionSession *concurrency.Session
	election        *concurrency.Election
}

// NewRaftBasedLeaderElector returns an RaftLeaderElector that implements the Elector interface.
func NewRaftBasedLeaderElector(ctx context.Context, config *utils.Config, hostname string) (*RaftLeaderElector, error) {
	// Create an etcd client
	cli, err := clientv3.New(
		clientv3.Config{
			Endpoints:   config.EtcdConfig.Endpoints,
			DialTimeout: time.Duration(config.HttpRequestTimeout) * time.Second,
			Username:    config.EtcdConfig.Username,
			Password:    config.EtcdConfig.Password,
			Context:     ctx,
		})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create etcd connection")
	}

	return &RaftLeaderElector{
		leadershipStatus: Candidate,
		cli:              cli,
		electionKey:      config.EtcdConfig.ElectionKey,
		hostname:         hostname,
	}, nil
}

func (r *RaftLeaderElector) IsLeader() bool {
	return atomic.LoadInt32(&r.leadershipStatus) == Leader
}

// Campaign opens a lease backed session and blocks on the election key until this node holds it.
func (r *RaftLeaderElector) Campaign(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.IsLeader() {
		return nil
	}

	log.Debug().Str("key", r.electionKey).Msg("initiating a new session for leader election")
	session, err := concurrency.NewSession(r.cli, concurrency.WithTTL(sessionTTL), concurrency.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to open an election session")
	}

	election := concurrency.NewElection(session, r.electionKey)
	if err := election.Campaign(ctx, r.hostname); err != nil {
		if cerr := session.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("failed to close the election session")
		}
		return errors.Wrap(err, "failed to elect leader through blocking campaign call")
	}

	r.electionSession = session
	r.election = election
	atomic.StoreInt32(&r.leadershipStatus, Leader)
	log.Debug().Str("host", r.hostname).Msg("current node is a leader")
	return nil
}

func (r *RaftLeaderElector) Resign(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.election == nil {
		return nil
	}

	defer func() {
		r.election = nil
		r.electionSession = nil
		atomic.StoreInt32(&r.leadershipStatus, Candidate)
	}()

	if err := r.election.Resign(ctx); err != nil {
		_ = r.electionSession.Close()
		return errors.Wrap(err, "failed to resign from the leadership status")
	}
	if err := r.electionSession.Close(); err != nil {
		return errors.Wrap(err, "failed to close the current election session")
	}
	return nil
}

func (r *RaftLeaderElector) Close() error {
	return r.cli.Close()
}
