package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/channel"
	"github.com/lalithlochan/taskbell/internal/circuitbreaker"
	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/litestore"
	"github.com/lalithlochan/taskbell/internal/notify"
	"github.com/lalithlochan/taskbell/internal/realtime"
	"github.com/lalithlochan/taskbell/internal/redis"
	"github.com/lalithlochan/taskbell/internal/scanner"
)

const testSecret = "test-secret"

type mockScans struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockScans) Trigger() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return "pass-1", nil
}

type testEnv struct {
	router http.Handler
	store  *litestore.Store
	auth   *Authenticator
	scans  *mockScans
	hub    *realtime.Hub
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	store, err := litestore.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := redis.NewWithClient(rdb, logger)

	hub := realtime.NewHub(logger)
	bridge := realtime.NewBridge(hub, nil, "test", logger)

	breakers := circuitbreaker.NewRegistry()
	cb := circuitbreaker.New(circuitbreaker.DefaultConfig("realtime"), logger)
	breakers.Add(cb)

	channels := []channel.Channel{
		channel.NewFeed(),
		circuitbreaker.Protect(channel.NewRealtime(bridge, logger), cb, logger),
	}
	svc := notify.NewService(store, channels, notify.Config{DeliveryTimeout: time.Second}, logger)

	auth := NewAuthenticator(secret, []string{"ADMIN"})
	scans := &mockScans{}
	h := NewHandler(logger, Deps{
		Notifications: svc,
		ReadState:     notify.NewReadState(store, logger),
		Subscriptions: store,
		Realtime:      bridge,
		Scans:         scans,
		Breakers:      breakers,
		Idempotency:   redis.NewIdempotencyService(client, logger),
		Auth:          auth,
	})

	return &testEnv{
		router: NewRouter(h, nil, logger),
		store:  store,
		auth:   auth,
		scans:  scans,
		hub:    hub,
	}
}

func (e *testEnv) token(t *testing.T, p Principal) string {
	t.Helper()
	tok, err := e.auth.IssueToken(p, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

var (
	admin = Principal{ID: "ops", Kind: db.RecipientUser, Role: "ADMIN"}
	alice = Principal{ID: "alice", Kind: db.RecipientUser, Role: "MEMBER"}
	bob   = Principal{ID: "bob", Kind: db.RecipientUser, Role: "MEMBER"}
)

func alertBody(userID string) map[string]any {
	return map[string]any{
		"type":              "system_alert",
		"message":           "Maintenance tonight",
		"recipient_user_id": userID,
		"data":              map[string]any{"severity": "info"},
	}
}

func TestCreateNotification(t *testing.T) {
	env := newTestEnv(t, testSecret)
	adminTok := env.token(t, admin)

	tests := []struct {
		name     string
		token    string
		body     any
		wantCode int
	}{
		{"valid", adminTok, alertBody("alice"), http.StatusCreated},
		{"no token", "", alertBody("alice"), http.StatusUnauthorized},
		{"not privileged", env.token(t, alice), alertBody("bob"), http.StatusForbidden},
		{"malformed json", adminTok, `{"type":`, http.StatusBadRequest},
		{"no recipient", adminTok, map[string]any{"type": "system_alert", "message": "x"}, http.StatusBadRequest},
		{"both recipients", adminTok, map[string]any{
			"type": "system_alert", "message": "x",
			"recipient_user_id": "a", "recipient_client_id": "b",
		}, http.StatusBadRequest},
		{"unknown type", adminTok, map[string]any{
			"type": "sms", "message": "x", "recipient_user_id": "a",
		}, http.StatusBadRequest},
		{"bad payload", adminTok, map[string]any{
			"type": "task_modified", "message": "x", "recipient_user_id": "a",
			"data": map[string]any{"task_id": "t1"},
		}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/notifications", tt.token, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantCode != http.StatusCreated {
				if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
					t.Errorf("content type = %q", ct)
				}
				return
			}
			notif := decodeBody[db.Notification](t, rec)
			if notif.Status != db.StatusUnread {
				t.Errorf("status = %s", notif.Status)
			}
			if notif.RecipientUserID == nil || *notif.RecipientUserID != "alice" {
				t.Errorf("recipient = %v", notif.RecipientUserID)
			}
		})
	}
}

func TestCreateNotification_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t, testSecret)
	tok := env.token(t, admin)

	first := env.do(t, http.MethodPost, "/v1/notifications", tok, alertBody("alice"), "Idempotency-Key", "k-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("first create: %d %s", first.Code, first.Body.String())
	}
	second := env.do(t, http.MethodPost, "/v1/notifications", tok, alertBody("alice"), "Idempotency-Key", "k-1")
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected replay header")
	}

	a, b := decodeBody[db.Notification](t, first), decodeBody[db.Notification](t, second)
	if a.ID != b.ID {
		t.Errorf("replay returned %s, want %s", b.ID, a.ID)
	}

	n, err := env.store.CountByRecipient(t.Context(), db.UserRecipient("alice"), nil)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 stored notification, got %d", n)
	}
}

func TestCreateNotification_FailedCreateReleasesKey(t *testing.T) {
	env := newTestEnv(t, testSecret)
	tok := env.token(t, admin)

	bad := alertBody("alice")
	bad["message"] = ""
	if rec := env.do(t, http.MethodPost, "/v1/notifications", tok, bad, "Idempotency-Key", "k-2"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/notifications", tok, alertBody("alice"), "Idempotency-Key", "k-2"); rec.Code != http.StatusCreated {
		t.Fatalf("retry with same key: %d %s", rec.Code, rec.Body.String())
	}
}

func TestReadStateFlow(t *testing.T) {
	env := newTestEnv(t, testSecret)
	adminTok := env.token(t, admin)
	aliceTok := env.token(t, alice)

	var ids []string
	for range 3 {
		rec := env.do(t, http.MethodPost, "/v1/notifications", adminTok, alertBody("alice"))
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: %d", rec.Code)
		}
		ids = append(ids, decodeBody[db.Notification](t, rec).ID.String())
	}

	// Default recipient is the caller.
	feed := decodeBody[notify.Feed](t, env.do(t, http.MethodGet, "/v1/notifications?limit=2", aliceTok, nil))
	if feed.Total != 3 || feed.UnreadCount != 3 || len(feed.Notifications) != 2 || feed.Limit != 2 {
		t.Fatalf("feed = %+v", feed)
	}

	// Archiving an unread notification is an illegal transition.
	if rec := env.do(t, http.MethodPatch, "/v1/notifications/"+ids[0]+"/archive", aliceTok, nil); rec.Code != http.StatusConflict {
		t.Fatalf("archive unread: expected 409, got %d", rec.Code)
	}

	for range 2 {
		rec := env.do(t, http.MethodPatch, "/v1/notifications/"+ids[0]+"/read", aliceTok, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("mark read: %d", rec.Code)
		}
		if v := decodeBody[notify.StatusView](t, rec); v.Status != db.StatusRead {
			t.Errorf("status = %s", v.Status)
		}
	}

	rec := env.do(t, http.MethodPatch, "/v1/notifications/"+ids[0]+"/archive", aliceTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: %d", rec.Code)
	}
	if v := decodeBody[notify.StatusView](t, rec); v.Status != db.StatusArchived {
		t.Errorf("status = %s", v.Status)
	}

	count := decodeBody[map[string]int](t, env.do(t, http.MethodGet, "/v1/recipients/user/alice/unread-count", aliceTok, nil))
	if count["unread_count"] != 2 {
		t.Errorf("unread = %v", count)
	}

	updated := decodeBody[map[string]int64](t, env.do(t, http.MethodPatch, "/v1/recipients/user/alice/read-all", aliceTok, nil))
	if updated["updated_count"] != 2 {
		t.Errorf("updated = %v", updated)
	}

	archived := decodeBody[notify.Feed](t, env.do(t, http.MethodGet, "/v1/notifications?status=archived", aliceTok, nil))
	if archived.Total != 1 || archived.UnreadCount != 0 {
		t.Errorf("archived feed = %+v", archived)
	}
}

func TestRecipientAccess(t *testing.T) {
	env := newTestEnv(t, testSecret)
	rec := env.do(t, http.MethodPost, "/v1/notifications", env.token(t, admin), alertBody("alice"))
	id := decodeBody[db.Notification](t, rec).ID.String()

	bobTok := env.token(t, bob)
	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{"foreign notification hidden", http.MethodGet, "/v1/notifications/" + id, http.StatusNotFound},
		{"foreign mark read hidden", http.MethodPatch, "/v1/notifications/" + id + "/read", http.StatusNotFound},
		{"foreign feed", http.MethodGet, "/v1/notifications?recipient_type=user&recipient_id=alice", http.StatusForbidden},
		{"foreign read-all", http.MethodPatch, "/v1/recipients/user/alice/read-all", http.StatusForbidden},
		{"same id other kind", http.MethodGet, "/v1/recipients/client/bob/unread-count", http.StatusForbidden},
		{"own count", http.MethodGet, "/v1/recipients/user/bob/unread-count", http.StatusOK},
		{"bad kind", http.MethodGet, "/v1/recipients/team/bob/unread-count", http.StatusBadRequest},
		{"bad id", http.MethodGet, "/v1/notifications/not-a-uuid", http.StatusBadRequest},
		{"admin routes", http.MethodGet, "/v1/admin/breakers", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, bobTok, nil)
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := env.do(t, http.MethodGet, "/v1/notifications/"+id, env.token(t, alice), nil); rec.Code != http.StatusOK {
		t.Errorf("owner get: %d", rec.Code)
	}
}

func TestAuthDisabled(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/notifications", "", alertBody("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create without auth: %d %s", rec.Code, rec.Body.String())
	}

	// Without a principal the recipient must be explicit.
	if rec := env.do(t, http.MethodGet, "/v1/notifications", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without recipient, got %d", rec.Code)
	}
	feed := decodeBody[notify.Feed](t, env.do(t, http.MethodGet, "/v1/notifications?recipient_type=user&recipient_id=alice", "", nil))
	if feed.Total != 1 {
		t.Errorf("feed total = %d", feed.Total)
	}
}

func TestMentions(t *testing.T) {
	env := newTestEnv(t, testSecret)
	aliceTok := env.token(t, alice)

	body := map[string]any{
		"actor":              map[string]any{"id": "alice", "name": "Alice"},
		"task":               map[string]any{"id": "t-9", "title": "Ship it"},
		"comment":            map[string]any{"id": "c-1", "content": `<p>hey <span data-mention-id="bob">@bob</span> and <span data-mention-id="alice">@alice</span></p>`},
		"mentioned_user_ids": []string{"carol", "bob"},
	}

	rec := env.do(t, http.MethodPost, "/v1/mentions", aliceTok, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[MentionResponse](t, rec)
	if len(resp.Notifications) != 2 || len(resp.Failed) != 0 {
		t.Fatalf("resp = %+v", resp)
	}
	if got := *resp.Notifications[0].RecipientUserID; got != "carol" {
		t.Errorf("first recipient = %s", got)
	}

	var data notify.CommentMentionData
	if err := json.Unmarshal(resp.Notifications[1].Data, &data); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if data.Link != "/tasks/t-9#comment-c-1" {
		t.Errorf("link = %s", data.Link)
	}
	if !strings.HasPrefix(resp.Notifications[1].Message, "Alice mentioned you") {
		t.Errorf("message = %s", resp.Notifications[1].Message)
	}

	// Only the author is tagged.
	body["mentioned_user_ids"] = []string{"alice"}
	body["comment"] = map[string]any{"id": "c-2", "content": "note to self"}
	if rec := env.do(t, http.MethodPost, "/v1/mentions", aliceTok, body); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	// Impersonating another author.
	body["actor"] = map[string]any{"id": "bob", "name": "Bob"}
	body["mentioned_user_ids"] = []string{"carol"}
	if rec := env.do(t, http.MethodPost, "/v1/mentions", aliceTok, body); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestPushSubscriptions(t *testing.T) {
	env := newTestEnv(t, testSecret)
	tok := env.token(t, alice)

	sub := map[string]any{
		"user_id": "alice",
		"subscription": map[string]any{
			"endpoint": "https://push.example.com/abc",
			"keys":     map[string]any{"p256dh": "key", "auth": "secret"},
		},
	}
	if rec := env.do(t, http.MethodPost, "/v1/push-subscriptions", tok, sub); rec.Code != http.StatusCreated {
		t.Fatalf("subscribe: %d %s", rec.Code, rec.Body.String())
	}

	subs, err := env.store.ListPushSubscriptions(t.Context(), "alice")
	if err != nil || len(subs) != 1 {
		t.Fatalf("subs = %v, err = %v", subs, err)
	}

	missingKeys := map[string]any{
		"user_id":      "alice",
		"subscription": map[string]any{"endpoint": "https://push.example.com/x"},
	}
	if rec := env.do(t, http.MethodPost, "/v1/push-subscriptions", tok, missingKeys); rec.Code != http.StatusBadRequest {
		t.Errorf("missing keys: expected 400, got %d", rec.Code)
	}

	sub["user_id"] = "bob"
	if rec := env.do(t, http.MethodPost, "/v1/push-subscriptions", tok, sub); rec.Code != http.StatusForbidden {
		t.Errorf("foreign subscribe: expected 403, got %d", rec.Code)
	}

	del := map[string]any{"user_id": "alice", "endpoint": "https://push.example.com/abc"}
	if rec := env.do(t, http.MethodDelete, "/v1/push-subscriptions", tok, del); rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/v1/push-subscriptions", tok, del); rec.Code != http.StatusNotFound {
		t.Errorf("second unsubscribe: expected 404, got %d", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t, testSecret)
	tok := env.token(t, admin)

	rec := env.do(t, http.MethodPost, "/v1/admin/scans", tok, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger: %d", rec.Code)
	}
	if got := decodeBody[map[string]string](t, rec)["pass_id"]; got != "pass-1" {
		t.Errorf("pass id = %q", got)
	}

	env.scans.err = scanner.ErrPassRunning
	if rec := env.do(t, http.MethodPost, "/v1/admin/scans", tok, nil); rec.Code != http.StatusConflict {
		t.Errorf("running: expected 409, got %d", rec.Code)
	}
	env.scans.err = errors.New("boom")
	if rec := env.do(t, http.MethodPost, "/v1/admin/scans", tok, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("failure: expected 500, got %d", rec.Code)
	}

	breakers := decodeBody[map[string][]circuitbreaker.Stats](t, env.do(t, http.MethodGet, "/v1/admin/breakers", tok, nil))
	if len(breakers["breakers"]) != 1 || breakers["breakers"][0].Name != "realtime" {
		t.Errorf("breakers = %+v", breakers)
	}

	if rec := env.do(t, http.MethodPost, "/v1/admin/breakers/realtime/reset", tok, nil); rec.Code != http.StatusOK {
		t.Errorf("reset: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/admin/breakers/nope/reset", tok, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown breaker: expected 404, got %d", rec.Code)
	}
}

func TestCreateNotification_ReachesRealtime(t *testing.T) {
	env := newTestEnv(t, testSecret)
	conn := env.hub.Register(db.UserRecipient("alice").Key())
	defer env.hub.Unregister(conn)

	rec := env.do(t, http.MethodPost, "/v1/notifications", env.token(t, admin), alertBody("alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	id := decodeBody[db.Notification](t, rec).ID

	select {
	case msg := <-conn.Send():
		var got db.Notification
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode pushed message: %v", err)
		}
		if got.ID != id {
			t.Errorf("pushed %s, want %s", got.ID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("no realtime message")
	}

	stored, err := env.store.GetNotification(t.Context(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.DeliveredAt == nil {
		t.Error("expected delivered_at after realtime delivery")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testSecret)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, testSecret)
	if rec := env.do(t, http.MethodGet, "/ready", "", nil); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}
}
