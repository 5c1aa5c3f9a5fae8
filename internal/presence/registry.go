// Package presence maintains the cross-process registry of connections,
// users and their stream subscriptions. Each mutation is a small number of
// individually-atomic store operations, not a distributed transaction;
// partial updates left by crashed processes are corrected by the periodic
// garbage collector, not prevented upfront.
package presence

import (
	"context"
	"strconv"
	"strings"

	"github.com/nodemesh/streamgate/internal/errors"
	"github.com/nodemesh/streamgate/internal/metrics"
	"github.com/nodemesh/streamgate/internal/store"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Key namespace. Every index carries a distinct prefix so a diagnostic
// scan can tell them apart.
const (
	keyConnectionIDs = "presence-connectionIds"
	keyUserIDs       = "presence-userIds"
	keyStreams       = "presence-streams"

	prefixUserConnections   = "presence-user-"       // + <id> + "-connections", set
	prefixConnectionUser    = "presence-connection-" // + <id> + "-user", string
	prefixConnectionStreams = "presence-connection-" // + <id> + "-streams", set
	prefixConnectionData    = "presence-connection-" // + <id> + "-data", hash
	prefixStreamConnections = "presence-stream-"     // + <name> + "-connections", hash
	prefixStreamUsers       = "presence-stream-"     // + <name> + "-users", hash of refcounts
)

func userConnectionsKey(userID int64) string {
	return prefixUserConnections + strconv.FormatInt(userID, 10) + "-connections"
}

func connectionUserKey(connID string) string { return prefixConnectionUser + connID + "-user" }

func connectionStreamsKey(connID string) string { return prefixConnectionStreams + connID + "-streams" }

func connectionDataKey(connID string) string { return prefixConnectionData + connID + "-data" }

func streamConnectionsKey(name string) string { return prefixStreamConnections + name + "-connections" }

func streamUsersKey(name string) string { return prefixStreamUsers + name + "-users" }

// Registry is the store-backed presence index.
type Registry struct {
	store   store.Store
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New creates a presence registry. metrics may be nil.
func New(st store.Store, m *metrics.Metrics, lg *logger.Logger) *Registry {
	if lg == nil {
		lg = logger.NewDefault("presence")
	}
	return &Registry{store: st, logger: lg, metrics: m}
}

// RegisterConnection records a new live connection and its opaque metadata.
func (r *Registry) RegisterConnection(ctx context.Context, connID string, data map[string]string) error {
	if err := r.store.SAdd(ctx, keyConnectionIDs, connID); err != nil {
		return err
	}
	for field, value := range data {
		if err := r.store.HSet(ctx, connectionDataKey(connID), field, value); err != nil {
			return err
		}
	}
	return nil
}

// SetUser binds a connection to an authenticated user.
func (r *Registry) SetUser(ctx context.Context, connID string, userID int64) error {
	uid := strconv.FormatInt(userID, 10)
	if err := r.store.SAdd(ctx, keyUserIDs, uid); err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, userConnectionsKey(userID), connID); err != nil {
		return err
	}
	return r.store.Set(ctx, connectionUserKey(connID), uid, 0)
}

// AddSubscription records that a connection (and its user, when known)
// subscribed to a stream. userID 0 means anonymous.
func (r *Registry) AddSubscription(ctx context.Context, connID, streamName string, userID int64) error {
	if err := r.store.SAdd(ctx, keyStreams, streamName); err != nil {
		return err
	}
	if err := r.store.HSet(ctx, streamConnectionsKey(streamName), connID, "1"); err != nil {
		return err
	}
	if err := r.store.SAdd(ctx, connectionStreamsKey(connID), streamName); err != nil {
		return err
	}
	if userID != 0 {
		uid := strconv.FormatInt(userID, 10)
		if _, err := r.store.HIncrBy(ctx, streamUsersKey(streamName), uid, 1); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSubscription undoes AddSubscription. The per-user refcount decays
// to zero when the user's last connection leaves the stream.
func (r *Registry) RemoveSubscription(ctx context.Context, connID, streamName string, userID int64) error {
	if err := r.store.HDel(ctx, streamConnectionsKey(streamName), connID); err != nil {
		return err
	}
	if err := r.store.SRem(ctx, connectionStreamsKey(connID), streamName); err != nil {
		return err
	}
	if userID != 0 {
		uid := strconv.FormatInt(userID, 10)
		count, err := r.store.HIncrBy(ctx, streamUsersKey(streamName), uid, -1)
		if err != nil {
			return err
		}
		if count <= 0 {
			if err := r.store.HDel(ctx, streamUsersKey(streamName), uid); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnregisterConnection removes a connection from every index. Idempotent:
// re-running on a half-removed connection finishes the job.
func (r *Registry) UnregisterConnection(ctx context.Context, connID string, userID int64) error {
	streams, err := r.store.SMembers(ctx, connectionStreamsKey(connID))
	if err != nil {
		return err
	}
	for _, name := range streams {
		if err := r.RemoveSubscription(ctx, connID, name, userID); err != nil {
			r.logger.WithError(err).WithField("connection", connID).Warn("remove subscription during disconnect")
		}
	}

	if err := r.store.SRem(ctx, keyConnectionIDs, connID); err != nil {
		return err
	}
	if err := r.store.Del(ctx, connectionUserKey(connID), connectionStreamsKey(connID), connectionDataKey(connID)); err != nil {
		return err
	}

	if userID != 0 {
		if err := r.store.SRem(ctx, userConnectionsKey(userID), connID); err != nil {
			return err
		}
		remaining, err := r.store.SMembers(ctx, userConnectionsKey(userID))
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := r.store.SRem(ctx, keyUserIDs, strconv.FormatInt(userID, 10)); err != nil {
				return err
			}
		}
	}
	return nil
}

// OnlineUsers returns the ids of users currently subscribed to the stream.
func (r *Registry) OnlineUsers(ctx context.Context, streamName string) ([]int64, error) {
	counts, err := r.store.HGetAll(ctx, streamUsersKey(streamName))
	if err != nil {
		return nil, err
	}
	users := make([]int64, 0, len(counts))
	for uid := range counts {
		id, err := strconv.ParseInt(uid, 10, 64)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}

// Snapshot is the full registry state for diagnostic views. O(total
// entries); intended for low-frequency admin use only.
type Snapshot struct {
	ConnectionIDs     []string                     `json:"connectionIds"`
	UserIDs           []string                     `json:"userIds"`
	Streams           []string                     `json:"streams"`
	ConnectionUsers   map[string]string            `json:"connectionUsers"`
	ConnectionStreams map[string][]string          `json:"connectionStreams"`
	ConnectionData    map[string]map[string]string `json:"connectionData"`
	StreamUsers       map[string]map[string]string `json:"streamUsers"`
	StreamConnections map[string][]string          `json:"streamConnections"`
}

// TakeSnapshot bulk-reads every index.
func (r *Registry) TakeSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		ConnectionUsers:   make(map[string]string),
		ConnectionStreams: make(map[string][]string),
		ConnectionData:    make(map[string]map[string]string),
		StreamUsers:       make(map[string]map[string]string),
		StreamConnections: make(map[string][]string),
	}

	var err error
	if snap.ConnectionIDs, err = r.store.SMembers(ctx, keyConnectionIDs); err != nil {
		return nil, err
	}
	if snap.UserIDs, err = r.store.SMembers(ctx, keyUserIDs); err != nil {
		return nil, err
	}
	if snap.Streams, err = r.store.SMembers(ctx, keyStreams); err != nil {
		return nil, err
	}

	for _, connID := range snap.ConnectionIDs {
		if user, err := r.store.Get(ctx, connectionUserKey(connID)); err == nil {
			snap.ConnectionUsers[connID] = user
		} else if !errors.IsNotFound(err) {
			return nil, err
		}
		streams, err := r.store.SMembers(ctx, connectionStreamsKey(connID))
		if err != nil {
			return nil, err
		}
		snap.ConnectionStreams[connID] = streams
		data, err := r.store.HGetAll(ctx, connectionDataKey(connID))
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			snap.ConnectionData[connID] = data
		}
	}

	for _, name := range snap.Streams {
		users, err := r.store.HGetAll(ctx, streamUsersKey(name))
		if err != nil {
			return nil, err
		}
		if len(users) > 0 {
			snap.StreamUsers[name] = users
		}
		conns, err := r.store.HGetAll(ctx, streamConnectionsKey(name))
		if err != nil {
			return nil, err
		}
		for connID := range conns {
			snap.StreamConnections[name] = append(snap.StreamConnections[name], connID)
		}
	}

	return snap, nil
}

// GarbageCollect runs the two consistency sweeps: (a) drop per-connection
// data for ids missing from the canonical set, (b) drop decayed per-stream
// user counters and forget streams with no subscribers left. Safe to run
// concurrently with live mutation; entries created mid-sweep may be missed
// until the next run.
func (r *Registry) GarbageCollect(ctx context.Context) error {
	if err := r.sweepConnections(ctx); err != nil {
		return err
	}
	return r.sweepStreams(ctx)
}

func (r *Registry) sweepConnections(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, prefixConnectionData+"*-data")
	if err != nil {
		return err
	}
	for _, key := range keys {
		connID := strings.TrimSuffix(strings.TrimPrefix(key, prefixConnectionData), "-data")
		live, err := r.store.SIsMember(ctx, keyConnectionIDs, connID)
		if err != nil {
			return err
		}
		if live {
			continue
		}
		if err := r.store.Del(ctx, key, connectionUserKey(connID), connectionStreamsKey(connID)); err != nil {
			return err
		}
		r.countRemoval("connection")
		r.logger.WithField("connection", connID).Debug("gc removed stale connection data")
	}
	return nil
}

func (r *Registry) sweepStreams(ctx context.Context) error {
	streams, err := r.store.SMembers(ctx, keyStreams)
	if err != nil {
		return err
	}
	for _, name := range streams {
		counts, err := r.store.HGetAll(ctx, streamUsersKey(name))
		if err != nil {
			return err
		}
		for uid, raw := range counts {
			count, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || count <= 0 {
				if err := r.store.HDel(ctx, streamUsersKey(name), uid); err != nil {
					return err
				}
				r.countRemoval("stream_user")
			}
		}

		remainingUsers, err := r.store.HLen(ctx, streamUsersKey(name))
		if err != nil {
			return err
		}
		remainingConns, err := r.store.HLen(ctx, streamConnectionsKey(name))
		if err != nil {
			return err
		}
		if remainingUsers == 0 && remainingConns == 0 {
			if err := r.store.SRem(ctx, keyStreams, name); err != nil {
				return err
			}
			r.countRemoval("stream")
		}
	}
	return nil
}

func (r *Registry) countRemoval(kind string) {
	if r.metrics != nil {
		r.metrics.GCRemovals.WithLabelValues(kind).Inc()
	}
}
