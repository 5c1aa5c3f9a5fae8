package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nodemesh/streamgate/internal/authority"
	"github.com/nodemesh/streamgate/internal/stream"
	"github.com/nodemesh/streamgate/internal/subscribe"
	"github.com/nodemesh/streamgate/pkg/logger"
)

// Wire frames sent to clients.
const (
	frameHeartbeat = "h"
	sessionCookie  = "session"
)

// connection is one live client session. It is owned exclusively by its
// goroutine for its whole lifetime.
type connection struct {
	id        string
	server    *Server
	sock      *websocket.Conn
	sub       *subscribe.Subscriber
	principal *authority.Principal
	limiter   *rate.Limiter
	logger    *logger.Logger
	lastSend  time.Time
	// done is closed by cleanup so the read pump never blocks forever
	// handing frames to a loop that already exited.
	done chan struct{}
}

// handleWebsocket is the connection entry point. The upgrader validates
// the handshake (method, version, headers) and answers 400/426 itself on
// failure, in which case no connection object is created.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("handshake rejected")
		return
	}

	sessionKey := ""
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		sessionKey = cookie.Value
	}

	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		s.runConnection(sock, r.RemoteAddr, sessionKey)
	}()
}

// runConnection drives one connection through its lifecycle:
// AUTHENTICATING, then the ACTIVE multiplexed loop, then the single
// cleanup path. A panic anywhere terminates only this connection.
func (s *Server) runConnection(sock *websocket.Conn, remoteAddr, sessionKey string) {
	ctx := s.connCtx()

	c := &connection{
		id:      uuid.NewString(),
		server:  s,
		sock:    sock,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.CommandsPerSecond), s.cfg.CommandBurst),
		done:    make(chan struct{}),
	}
	c.logger = s.logger.WithField("connection", c.id)

	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).WithField("user", c.userID()).Error("connection loop panicked")
		}
		c.cleanup()
	}()

	if s.deps.Metrics != nil {
		s.deps.Metrics.OpenConnections.Inc()
	}

	sub, err := subscribe.New(ctx, s.deps.Store, c.logger)
	if err != nil {
		c.logger.WithError(err).Warn("open subscriber")
		return
	}
	c.sub = sub

	if err := s.deps.Registry.RegisterConnection(ctx, c.id, map[string]string{
		"remoteAddr":  remoteAddr,
		"connectedAt": strconv.FormatInt(time.Now().Unix(), 10),
	}); err != nil {
		c.logger.WithError(err).Warn("register connection")
		return
	}

	// AUTHENTICATING: the session lookup may block, so it runs on the
	// bounded auth pool rather than inline. A full queue degrades the
	// connection to guest instead of stalling it.
	c.principal = s.resolvePrincipal(ctx, sessionKey, c.logger)
	if c.principal != nil {
		if err := s.deps.Registry.SetUser(ctx, c.id, c.principal.ID); err != nil {
			c.logger.WithError(err).Warn("record connection user")
		}
		c.logger = c.logger.WithField("user", c.principal.ID)
	}

	// ACTIVE: every connection listens on the global stream.
	if err := c.addSubscription(ctx, stream.GlobalStream); err != nil {
		c.logger.WithError(err).Warn("auto-subscribe global stream")
		return
	}

	c.loop(ctx)
}

func (s *Server) resolvePrincipal(ctx context.Context, sessionKey string, lg *logger.Logger) *authority.Principal {
	if sessionKey == "" || s.deps.Resolver == nil {
		return nil
	}

	type result struct {
		principal *authority.Principal
		err       error
	}
	resultCh := make(chan result, 1)
	submitted := s.authPool.Submit(func(taskCtx context.Context) {
		p, err := s.deps.Resolver.Resolve(taskCtx, sessionKey)
		resultCh <- result{principal: p, err: err}
	})
	if !submitted {
		lg.Warn("auth queue full; continuing as guest")
		return nil
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			lg.WithError(res.err).Warn("session resolution failed; continuing as guest")
			return nil
		}
		return res.principal
	case <-ctx.Done():
		return nil
	}
}

// loop is the dual-descriptor wait: it blocks on the socket reader and the
// subscriber channel simultaneously, bounded by the heartbeat interval.
func (c *connection) loop(ctx context.Context) {
	inbound := make(chan string, 16)
	readErr := make(chan error, 1)
	go c.readPump(inbound, readErr)

	heartbeat := time.NewTicker(c.server.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	c.lastSend = time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Debug("socket read failed")
			}
			return

		case msg, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			if !c.forward(msg) {
				return
			}

		case cmd := <-inbound:
			if !c.handleCommand(ctx, cmd) {
				return
			}

		case <-heartbeat.C:
			if time.Since(c.lastSend) < c.server.cfg.HeartbeatInterval {
				continue
			}
			if !c.send(frameHeartbeat) {
				return
			}
			if c.server.deps.Metrics != nil {
				c.server.deps.Metrics.Heartbeats.Inc()
			}
		}
	}
}

// readPump moves inbound text frames onto a channel the loop selects on.
// It exits (and reports) on the first read error, including peer close.
func (c *connection) readPump(inbound chan<- string, readErr chan<- error) {
	for {
		kind, data, err := c.sock.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case inbound <- string(data):
		case <-c.done:
			return
		}
	}
}

// forward relays a broadcast frame to the client, stripping the internal
// id/vanilla prefix. Frames for streams no longer subscribed (unsubscribed
// while the frame was in flight) are dropped. Malformed frames are logged
// and skipped, never fatal.
func (c *connection) forward(msg subscribe.Message) bool {
	if !c.sub.Subscribed(msg.Channel) {
		return true
	}

	_, payload, err := stream.DecodeWire(msg.Payload)
	if err != nil {
		c.logger.WithError(err).WithField("stream", msg.Channel).Warn("malformed broadcast frame")
		return true
	}

	if !c.send("m " + msg.Channel + " " + payload) {
		if c.server.deps.Metrics != nil {
			c.server.deps.Metrics.Dropped.Inc()
		}
		return false
	}
	if c.server.deps.Metrics != nil {
		c.server.deps.Metrics.Delivered.Inc()
	}
	return true
}

// handleCommand parses one inbound text command. Command-level errors are
// answered with an error frame and are never fatal; only socket failures
// end the connection.
func (c *connection) handleCommand(ctx context.Context, raw string) bool {
	if !c.limiter.Allow() {
		return c.send("error rateLimited")
	}

	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return c.send("error empty command")
	}

	switch parts[0] {
	case "s":
		if len(parts) != 2 {
			return c.send("error subscribe requires a stream name")
		}
		return c.handleSubscribe(ctx, parts[1])
	default:
		return c.send("error unknown command " + parts[0])
	}
}

func (c *connection) handleSubscribe(ctx context.Context, streamName string) bool {
	allowed, reason := c.server.deps.Authority.CanSubscribe(c.principal, streamName)
	if !allowed {
		// Denials are reported, logged and non-fatal; they may indicate
		// a client/server contract mismatch worth investigating.
		c.logger.WithField("stream", streamName).WithField("reason", reason).Info("subscription denied")
		if c.server.deps.Metrics != nil {
			c.server.deps.Metrics.SubscriptionsDenied.Inc()
		}
		return c.send("error invalidSubscription " + streamName + " " + strconv.FormatInt(c.userID(), 10) + " " + reason)
	}

	if err := c.addSubscription(ctx, streamName); err != nil {
		c.logger.WithError(err).WithField("stream", streamName).Warn("subscribe failed")
		return c.send("error subscription failed " + streamName)
	}
	return c.send("s " + streamName)
}

func (c *connection) addSubscription(ctx context.Context, streamName string) error {
	if err := c.sub.Subscribe(ctx, streamName); err != nil {
		return err
	}
	if err := c.server.deps.Registry.AddSubscription(ctx, c.id, streamName, c.userID()); err != nil {
		c.logger.WithError(err).WithField("stream", streamName).Warn("record subscription")
	}
	return nil
}

// send writes one text frame, tracking the last-send time the heartbeat
// check uses. All writes happen on the connection's own goroutine.
func (c *connection) send(frame string) bool {
	deadline := time.Now().Add(c.server.cfg.WriteTimeout)
	if err := c.sock.SetWriteDeadline(deadline); err != nil {
		return false
	}
	if err := c.sock.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.logger.WithError(err).Debug("socket write failed")
		return false
	}
	c.lastSend = time.Now()
	return true
}

func (c *connection) userID() int64 {
	if c.principal == nil {
		return 0
	}
	return c.principal.ID
}

// cleanup is the single teardown path, reached from every loop exit,
// handshake failure after registration, and panic recovery alike.
func (c *connection) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(c.done)
	if c.sub != nil {
		_ = c.sub.Close()
	}
	_ = c.sock.Close()

	if err := c.server.deps.Registry.UnregisterConnection(ctx, c.id, c.userID()); err != nil {
		c.logger.WithError(err).Warn("deregister connection")
	}
	if c.server.deps.Metrics != nil {
		c.server.deps.Metrics.OpenConnections.Dec()
	}
	c.logger.Debug("connection closed")
}
