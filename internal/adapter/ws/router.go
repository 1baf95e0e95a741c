// Package ws implements the tenant-scoped realtime router over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/chin-flags/fixapp/internal/clock"
	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/logger"
	"github.com/chin-flags/fixapp/internal/middleware"
	"github.com/chin-flags/fixapp/internal/port/broadcast"
	"github.com/chin-flags/fixapp/internal/port/cache"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

var _ broadcast.Emitter = (*Router)(nil)

// TenantLookup loads a tenant by id for the handshake.
type TenantLookup interface {
	ResolveID(ctx context.Context, id string) (tenancy.Snapshot, error)
}

// Metrics records connection gauges. Implemented by the otel adapter.
type Metrics interface {
	RecordConnection(ctx context.Context, tenantID string, delta int64)
}

// conn wraps a single authenticated WebSocket connection.
type conn struct {
	id        string
	ws        *websocket.Conn
	principal *user.Principal
	rooms     map[string]struct{} // guarded by Router.mu
}

// Router tracks connections by room and delivers tenant-scoped events.
type Router struct {
	verifier middleware.TokenVerifier
	tenants  TenantLookup
	presence cache.Cache
	queue    messagequeue.Queue
	metrics  Metrics
	cfg      config.Realtime
	clock    clock.Clock
	log      *zap.Logger
	instance string

	mu    sync.RWMutex
	rooms map[string]map[*conn]struct{}
	conns map[*conn]struct{}
}

// Option configures a Router.
type Option func(*Router)

// WithQueue enables cross-instance fan-out over q.
func WithQueue(q messagequeue.Queue) Option { return func(r *Router) { r.queue = q } }

// WithTenants checks the token's tenant is still active on handshake.
func WithTenants(t TenantLookup) Option { return func(r *Router) { r.tenants = t } }

// WithMetrics records connection counts.
func WithMetrics(m Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithClock overrides the clock used for timestamps.
func WithClock(c clock.Clock) Option { return func(r *Router) { r.clock = c } }

// NewRouter creates a Router. presence holds liveness records.
func NewRouter(verifier middleware.TokenVerifier, presence cache.Cache, cfg config.Realtime, log *zap.Logger, opts ...Option) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		verifier: verifier,
		presence: presence,
		cfg:      cfg,
		clock:    clock.Real{},
		log:      log.Named("ws"),
		instance: ulid.Make().String(),
		rooms:    make(map[string]map[*conn]struct{}),
		conns:    make(map[*conn]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleWS authenticates the handshake and upgrades the connection. The
// upgrade is refused with 401 unless a valid token is presented.
func (r *Router) HandleWS(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	token := req.URL.Query().Get("token")
	if token == "" {
		token, _ = middleware.BearerToken(req)
	}
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	p, err := r.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		logger.FromContext(ctx, r.log).Error("ws token verification failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	snap := tenancy.Snapshot{TenantID: p.TenantID}
	if r.tenants != nil {
		snap, err = r.tenants.ResolveID(ctx, p.TenantID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		case err != nil:
			logger.FromContext(ctx, r.log).Error("ws tenant lookup failed",
				zap.String("tenant_id", p.TenantID), zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			return
		case !snap.Active():
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
	}
	ctx = tenancy.WithTenant(ctx, snap)

	ws, err := websocket.Accept(w, req, &websocket.AcceptOptions{
		OriginPatterns: r.cfg.AllowOrigins,
	})
	if err != nil {
		logger.FromContext(ctx, r.log).Warn("websocket accept failed", zap.Error(err))
		return
	}

	c := &conn{id: ulid.Make().String(), ws: ws, principal: p, rooms: make(map[string]struct{})}
	r.serve(ctx, c)
}

func (r *Router) serve(ctx context.Context, c *conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := logger.FromContext(ctx, r.log).With(zap.String("connection_id", c.id), zap.String("user_id", c.principal.UserID))

	r.connect(ctx, c)
	defer r.disconnect(context.WithoutCancel(ctx), c)
	log.Info("websocket connected")

	r.sendTo(ctx, c, EventConnected, ConnectedEvent{Message: "Connected to RCA namespace", ConnectionID: c.id})

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				log.Debug("websocket read ended", zap.Error(err))
			}
			_ = c.ws.Close(websocket.StatusNormalClosure, "")
			return
		}
		r.touch(ctx, c)

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			r.sendTo(ctx, c, EventError, ErrorEvent{Message: "Malformed frame"})
			continue
		}
		r.dispatch(ctx, c, f)
	}
}

func (r *Router) dispatch(ctx context.Context, c *conn, f Frame) {
	tenantID := c.principal.TenantID
	switch {
	case f.Event == clientPing:
		r.sendTo(ctx, c, EventPong, nil)

	case strings.HasPrefix(f.Event, clientJoinPrefix):
		resource := strings.TrimPrefix(f.Event, clientJoinPrefix)
		id := resourceIDFrom(f.Data)
		if err := validResource(resource, id); err != nil {
			r.sendTo(ctx, c, EventError, ErrorEvent{Message: err.Error()})
			return
		}
		room := resourceRoom(tenantID, resource, id)
		r.join(c, room)
		r.emit(ctx, tenantID, room, EventUserJoined, PresenceEvent{UserID: c.principal.UserID, Email: c.principal.Email}, c.id)
		r.sendTo(ctx, c, EventRoomJoined, RoomJoinedEvent{RoomName: room, Resource: resource, ResourceID: id})

	case strings.HasPrefix(f.Event, clientLeavePrefix):
		resource := strings.TrimPrefix(f.Event, clientLeavePrefix)
		id := resourceIDFrom(f.Data)
		if err := validResource(resource, id); err != nil {
			r.sendTo(ctx, c, EventError, ErrorEvent{Message: err.Error()})
			return
		}
		room := resourceRoom(tenantID, resource, id)
		if r.leave(c, room) {
			r.emit(ctx, tenantID, room, EventUserLeft, PresenceEvent{UserID: c.principal.UserID, Email: c.principal.Email}, c.id)
		}

	default:
		r.sendTo(ctx, c, EventError, ErrorEvent{Message: "Unknown event " + f.Event})
	}
}

func (r *Router) connect(ctx context.Context, c *conn) {
	t, u := c.principal.TenantID, c.principal.UserID
	r.mu.Lock()
	r.conns[c] = struct{}{}
	r.mu.Unlock()
	r.join(c, userRoom(t, u))
	r.join(c, tenantRoom(t))
	r.touch(ctx, c)
	if r.metrics != nil {
		r.metrics.RecordConnection(ctx, t, 1)
	}
}

// disconnect leaves every room and drops the liveness record.
func (r *Router) disconnect(ctx context.Context, c *conn) {
	if c.principal == nil {
		return
	}
	r.mu.Lock()
	if _, ok := r.conns[c]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, c)
	for room := range c.rooms {
		r.removeLocked(c, room)
	}
	r.mu.Unlock()

	t, u := c.principal.TenantID, c.principal.UserID
	if err := r.presence.Delete(ctx, livenessKey(t, u)); err != nil {
		r.log.Warn("delete liveness failed", zap.String("tenant_id", t), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.RecordConnection(ctx, t, -1)
	}
	r.log.Info("websocket disconnected", zap.String("connection_id", c.id), zap.String("tenant_id", t))
}

// touch writes the liveness record. Best-effort: last writer wins.
func (r *Router) touch(ctx context.Context, c *conn) {
	key := livenessKey(c.principal.TenantID, c.principal.UserID)
	if err := r.presence.Set(ctx, key, []byte(c.id), r.cfg.LivenessTTL); err != nil {
		r.log.Warn("write liveness failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Router) join(c *conn, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*conn]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (r *Router) leave(c *conn, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	r.removeLocked(c, room)
	return true
}

func (r *Router) removeLocked(c *conn, room string) {
	delete(c.rooms, room)
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

// EmitToRoom sends to tenant:{tenantID}:{resource}:{resourceID}.
func (r *Router) EmitToRoom(ctx context.Context, tenantID, resource, resourceID, event string, payload any) error {
	if err := validResource(resource, resourceID); err != nil {
		return domain.Validationf("%v", err)
	}
	return r.emit(ctx, tenantID, resourceRoom(tenantID, resource, resourceID), event, payload, "")
}

// EmitToUser sends to every connection of one user.
func (r *Router) EmitToUser(ctx context.Context, tenantID, userID, event string, payload any) error {
	return r.emit(ctx, tenantID, userRoom(tenantID, userID), event, payload, "")
}

// EmitToTenant sends to every connection of one tenant.
func (r *Router) EmitToTenant(ctx context.Context, tenantID, event string, payload any) error {
	return r.emit(ctx, tenantID, tenantRoom(tenantID), event, payload, "")
}

// emit delivers locally and, when a queue is attached, publishes the event
// for the other instances.
func (r *Router) emit(ctx context.Context, tenantID, room, event string, payload any, except string) error {
	if tenantID == "" {
		return domain.Validationf("tenant id is required")
	}
	data, err := stamp(payload, r.clock.Now())
	if err != nil {
		return err
	}
	r.deliver(ctx, room, event, data, except)

	if r.queue == nil {
		return nil
	}
	env, err := json.Marshal(messagequeue.RealtimeEnvelope{
		TenantID: tenantID, Room: room, Event: event, Payload: data, Origin: r.instance, Except: except,
	})
	if err != nil {
		return err
	}
	if err := r.queue.Publish(ctx, messagequeue.RealtimeSubject(tenantID), env); err != nil {
		logger.FromContext(ctx, r.log).Warn("realtime fan-out failed, delivered locally only",
			zap.String("room", room), zap.Error(err))
	}
	return nil
}

// Listen delivers events published by other instances to local members.
func (r *Router) Listen(ctx context.Context) (func(), error) {
	if r.queue == nil {
		return func() {}, nil
	}
	return r.queue.Subscribe(ctx, messagequeue.SubjectRealtimePrefix+".*", func(ctx context.Context, subject string, data []byte) error {
		var env messagequeue.RealtimeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		if env.Origin == r.instance {
			return nil
		}
		if subject != messagequeue.RealtimeSubject(env.TenantID) || !ownsRoom(env.TenantID, env.Room) {
			r.log.Error("realtime envelope crosses tenants",
				zap.String("subject", subject), zap.String("tenant_id", env.TenantID), zap.String("room", env.Room))
			return nil
		}
		r.deliver(ctx, env.Room, env.Event, env.Payload, env.Except)
		return nil
	})
}

func (r *Router) deliver(ctx context.Context, room, event string, data json.RawMessage, except string) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		r.log.Error("encode ws frame", zap.String("event", event), zap.Error(err))
		return
	}

	r.mu.RLock()
	targets := make([]*conn, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		if c.id != except {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		r.write(ctx, c, frame)
	}
}

func (r *Router) sendTo(ctx context.Context, c *conn, event string, payload any) {
	data, err := stamp(payload, r.clock.Now())
	if err != nil {
		r.log.Error("stamp ws payload", zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		return
	}
	r.write(ctx, c, frame)
}

func (r *Router) write(ctx context.Context, c *conn, frame []byte) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout())
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, frame); err != nil {
		r.log.Debug("websocket write failed", zap.String("connection_id", c.id), zap.Error(err))
		_ = c.ws.Close(websocket.StatusInternalError, "write failed")
	}
}

func (r *Router) writeTimeout() time.Duration {
	if r.cfg.WriteTimeout > 0 {
		return r.cfg.WriteTimeout
	}
	return 10 * time.Second
}

// ConnectionCount returns the number of local connections.
func (r *Router) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomSize returns the number of local members of room.
func (r *Router) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
