package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/chin-flags/fixapp/internal/config"
	"github.com/chin-flags/fixapp/internal/domain"
	"github.com/chin-flags/fixapp/internal/domain/tenant"
	"github.com/chin-flags/fixapp/internal/domain/user"
	"github.com/chin-flags/fixapp/internal/port/cache/cachetest"
	"github.com/chin-flags/fixapp/internal/port/messagequeue"
	"github.com/chin-flags/fixapp/internal/tenancy"
)

type stubVerifier map[string]*user.Principal

func (s stubVerifier) Verify(_ context.Context, raw string) (*user.Principal, error) {
	if p, ok := s[raw]; ok {
		return p, nil
	}
	return nil, domain.NewError(domain.ErrUnauthorized, "Unauthorized")
}

var principals = stubVerifier{
	"alice": {UserID: "u-alice", TenantID: "acme", Email: "alice@acme.test", Role: user.RoleTeamMember},
	"bob":   {UserID: "u-bob", TenantID: "acme", Email: "bob@acme.test", Role: user.RoleViewer},
	"gina":  {UserID: "u-gina", TenantID: "globex", Email: "gina@globex.test", Role: user.RoleTeamMember},
}

// bus is an in-process queue that delivers broadcasts synchronously.
type bus struct {
	mu   sync.Mutex
	subs map[string][]messagequeue.Handler
}

func newBus() *bus { return &bus{subs: make(map[string][]messagequeue.Handler)} }

func (b *bus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	b.mu.Lock()
	var hs []messagequeue.Handler
	for pattern, list := range b.subs {
		if pattern == subject || (strings.HasSuffix(pattern, ".*") && strings.HasPrefix(subject, strings.TrimSuffix(pattern, "*"))) {
			hs = append(hs, list...)
		}
	}
	b.mu.Unlock()
	for _, h := range hs {
		_ = h(ctx, subject, data)
	}
	return nil
}

func (b *bus) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], h)
	b.mu.Unlock()
	return func() {}, nil
}

func (b *bus) Enqueue(context.Context, string, []byte, messagequeue.RetryPolicy) (string, error) {
	return "", nil
}

func (b *bus) Consume(context.Context, string, string, messagequeue.RetryPolicy, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (b *bus) Pending(context.Context, string) (uint64, error)     { return 0, nil }
func (b *bus) FailedCount(context.Context, string) (uint64, error) { return 0, nil }
func (b *bus) Failed(context.Context, string, string, int, int) ([]messagequeue.FailedJob, error) {
	return nil, nil
}
func (b *bus) Retry(context.Context, string, string, string) error { return messagequeue.ErrJobNotFound }
func (b *bus) Drain() error                                        { return nil }
func (b *bus) Close() error                                        { return nil }
func (b *bus) IsConnected() bool                                   { return true }

type fixture struct {
	router   *Router
	presence *cachetest.Memory
	srv      *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	presence := cachetest.NewMemory()
	cfg := config.Defaults().Realtime
	cfg.AllowOrigins = nil
	r := NewRouter(principals, presence, cfg, nil, opts...)
	srv := httptest.NewServer(http.HandlerFunc(r.HandleWS))
	t.Cleanup(srv.Close)
	return &fixture{router: r, presence: presence, srv: srv}
}

func (f *fixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	return u
}

type inbound struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func dial(t *testing.T, f *fixture, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, f.url(token), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })

	if got := read(t, c); got.Event != EventConnected {
		t.Fatalf("first event = %q, want connected", got.Event)
	}
	return c
}

func read(t *testing.T, c *websocket.Conn) inbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return in
}

// expectSilence asserts nothing was queued for c: a ping must be answered
// by the very next frame. A read deadline would close the connection.
func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	send(t, c, "ping", nil)
	if got := read(t, c); got.Event != EventPong {
		t.Fatalf("unexpected frame %+v", got)
	}
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	frame, _ := json.Marshal(Frame{Event: event, Data: raw})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandshakeWithoutTokenIsRejected(t *testing.T) {
	f := newFixture(t)

	for _, token := range []string{"", "forged"} {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		c, resp, err := websocket.Dial(ctx, f.url(token), nil)
		cancel()
		if err == nil {
			_ = c.CloseNow()
			t.Fatalf("token %q: expected handshake to fail", token)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %+v", token, resp)
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "Unauthorized") {
			t.Errorf("token %q: body = %s", token, body)
		}
	}
	if f.router.ConnectionCount() != 0 || f.presence.Len() != 0 {
		t.Fatal("rejected handshake must leave no connection or liveness record")
	}
}

// tenantTable resolves tenant ids from a map; err, when set, fails every lookup.
type tenantTable struct {
	tenants map[string]tenancy.Snapshot
	err     error
}

func (tt tenantTable) ResolveID(_ context.Context, id string) (tenancy.Snapshot, error) {
	if tt.err != nil {
		return tenancy.Snapshot{}, tt.err
	}
	if snap, ok := tt.tenants[id]; ok {
		return snap, nil
	}
	return tenancy.Snapshot{}, domain.NewError(domain.ErrNotFound, "Tenant not found")
}

func TestHandshakeTenantLookup(t *testing.T) {
	table := map[string]tenancy.Snapshot{
		"acme":   {TenantID: "acme", Status: tenant.StatusActive},
		"globex": {TenantID: "globex", Status: tenant.StatusSuspended},
	}
	tests := []struct {
		name   string
		lookup tenantTable
		token  string
		want   int
	}{
		{"unknown tenant", tenantTable{tenants: map[string]tenancy.Snapshot{}}, "alice", http.StatusUnauthorized},
		{"inactive tenant", tenantTable{tenants: table}, "gina", http.StatusUnauthorized},
		{"lookup failure", tenantTable{err: errors.New("connection refused")}, "alice", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, WithTenants(tt.lookup))
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			c, resp, err := websocket.Dial(ctx, f.url(tt.token), nil)
			if err == nil {
				_ = c.CloseNow()
				t.Fatal("expected handshake to fail")
			}
			if resp == nil || resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %+v", tt.want, resp)
			}
			if f.router.ConnectionCount() != 0 {
				t.Error("failed handshake left a connection")
			}
		})
	}

	f := newFixture(t, WithTenants(tenantTable{tenants: table}))
	dial(t, f, "alice")
	if f.router.RoomSize("tenant:acme") != 1 {
		t.Fatal("active tenant should connect")
	}
}

func TestConnectJoinsDefaultRooms(t *testing.T) {
	f := newFixture(t)
	dial(t, f, "alice")

	if f.router.RoomSize("tenant:acme") != 1 || f.router.RoomSize("tenant:acme:user:u-alice") != 1 {
		t.Fatal("expected tenant and user rooms to be joined")
	}
	if !f.presence.Has("ws:connection:acme:u-alice") {
		t.Fatal("expected liveness record")
	}
	if ttl := f.presence.TTL("ws:connection:acme:u-alice"); ttl != 5*time.Minute {
		t.Errorf("liveness TTL = %v, want 5m", ttl)
	}
}

func TestBearerHeaderHandshake(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, f.url(""), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer bob"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.CloseNow()
	if got := read(t, c); got.Event != EventConnected || got.Data["connectionId"] == "" {
		t.Fatalf("unexpected greeting %+v", got)
	}
}

func TestJoinRoomAndPresence(t *testing.T) {
	f := newFixture(t)
	alice := dial(t, f, "alice")
	bob := dial(t, f, "bob")

	send(t, alice, "join-rca", "r-1")
	joined := read(t, alice)
	if joined.Event != EventRoomJoined || joined.Data["roomName"] != "tenant:acme:rca:r-1" {
		t.Fatalf("unexpected join reply %+v", joined)
	}
	if _, ok := joined.Data["timestamp"].(float64); !ok {
		t.Errorf("payload missing timestamp: %+v", joined.Data)
	}

	send(t, bob, "join-rca", map[string]string{"resourceId": "r-1"})
	if got := read(t, alice); got.Event != EventUserJoined || got.Data["userId"] != "u-bob" {
		t.Fatalf("alice expected user-joined for bob, got %+v", got)
	}
	if got := read(t, bob); got.Event != EventRoomJoined {
		t.Fatalf("bob expected room-joined, got %+v", got)
	}

	send(t, bob, "leave-rca", "r-1")
	if got := read(t, alice); got.Event != EventUserLeft || got.Data["email"] != "bob@acme.test" {
		t.Fatalf("alice expected user-left, got %+v", got)
	}
}

func TestEmitIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	alice := dial(t, f, "alice")
	gina := dial(t, f, "gina")

	send(t, alice, "join-rca", "r-1")
	read(t, alice)
	send(t, gina, "join-rca", "r-1")
	read(t, gina)

	if err := f.router.EmitToRoom(context.Background(), "acme", "rca", "r-1", "rca-updated", map[string]string{"status": "open"}); err != nil {
		t.Fatalf("EmitToRoom: %v", err)
	}
	if got := read(t, alice); got.Event != "rca-updated" || got.Data["status"] != "open" {
		t.Fatalf("alice got %+v", got)
	}
	expectSilence(t, gina)

	if err := f.router.EmitToTenant(context.Background(), "globex", "announce", nil); err != nil {
		t.Fatalf("EmitToTenant: %v", err)
	}
	if got := read(t, gina); got.Event != "announce" {
		t.Fatalf("gina got %+v", got)
	}
	expectSilence(t, alice)

	if err := f.router.EmitToUser(context.Background(), "acme", "u-alice", "notify", []string{"a"}); err != nil {
		t.Fatalf("EmitToUser: %v", err)
	}
	if got := read(t, alice); got.Event != "notify" || got.Data["value"] == nil {
		t.Fatalf("alice got %+v", got)
	}
}

func TestInvalidFramesGetErrors(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f, "alice")

	for _, tc := range []struct {
		event string
		data  any
	}{
		{"join-RCA", "r-1"},
		{"join-rca", ""},
		{"join-rca", "a:b"},
		{"join-rca", strings.Repeat("x", 129)},
		{"shout", nil},
	} {
		send(t, c, tc.event, tc.data)
		if got := read(t, c); got.Event != EventError {
			t.Errorf("%s %v: got %q, want error", tc.event, tc.data, got.Event)
		}
	}
}

func TestPingRefreshesLiveness(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f, "alice")

	if err := f.presence.Delete(context.Background(), "ws:connection:acme:u-alice"); err != nil {
		t.Fatal(err)
	}
	send(t, c, "ping", nil)
	if got := read(t, c); got.Event != EventPong {
		t.Fatalf("got %q, want pong", got.Event)
	}
	if !f.presence.Has("ws:connection:acme:u-alice") {
		t.Fatal("ping must rewrite the liveness record")
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f, "alice")
	send(t, c, "join-rca", "r-1")
	read(t, c)

	_ = c.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool {
		return f.router.ConnectionCount() == 0 && !f.presence.Has("ws:connection:acme:u-alice")
	})

	if f.router.RoomSize("tenant:acme:rca:r-1") != 0 || f.router.RoomSize("tenant:acme") != 0 {
		t.Fatal("rooms must be empty after disconnect")
	}
}

func TestDisconnectWithoutPrincipalIsNoop(t *testing.T) {
	r := NewRouter(principals, cachetest.NewMemory(), config.Defaults().Realtime, nil)
	r.disconnect(context.Background(), &conn{id: "x", rooms: map[string]struct{}{}})
}

func TestCrossInstanceFanOut(t *testing.T) {
	q := newBus()
	a := newFixture(t, WithQueue(q))
	b := newFixture(t, WithQueue(q))
	for _, f := range []*fixture{a, b} {
		if _, err := f.router.Listen(context.Background()); err != nil {
			t.Fatalf("Listen: %v", err)
		}
	}

	onA := dial(t, a, "alice")
	onB := dial(t, b, "bob")
	send(t, onB, "join-rca", "r-7")
	read(t, onB)

	if err := a.router.EmitToRoom(context.Background(), "acme", "rca", "r-7", "rca-updated", map[string]int{"v": 2}); err != nil {
		t.Fatalf("EmitToRoom: %v", err)
	}
	if got := read(t, onB); got.Event != "rca-updated" {
		t.Fatalf("bob on instance B got %+v", got)
	}

	if err := a.router.EmitToUser(context.Background(), "acme", "u-alice", "ping-self", nil); err != nil {
		t.Fatalf("EmitToUser: %v", err)
	}
	if got := read(t, onA); got.Event != "ping-self" {
		t.Fatalf("alice got %+v", got)
	}
	expectSilence(t, onA)
}

func TestListenDropsCrossTenantEnvelope(t *testing.T) {
	q := newBus()
	f := newFixture(t, WithQueue(q))
	if _, err := f.router.Listen(context.Background()); err != nil {
		t.Fatal(err)
	}
	alice := dial(t, f, "alice")

	env, _ := json.Marshal(messagequeue.RealtimeEnvelope{
		TenantID: "globex", Room: "tenant:acme", Event: "leak", Payload: json.RawMessage(`{}`), Origin: "other",
	})
	_ = q.Publish(context.Background(), messagequeue.RealtimeSubject("globex"), env)
	expectSilence(t, alice)
}

func TestStamp(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	for _, tc := range []struct {
		name    string
		payload any
		want    string
	}{
		{"nil", nil, `{"timestamp":1700000000123}`},
		{"object", map[string]string{"a": "b"}, `{"a":"b","timestamp":1700000000123}`},
		{"scalar", 5, `{"timestamp":1700000000123,"value":5}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := stamp(tc.payload, now)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}
