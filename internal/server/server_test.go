package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/i18n"
	"deskline/internal/migrate"
	"deskline/internal/notify"
)

const testJWTSecret = "test-secret"

type testServer struct {
	BaseURL string
	Engine  *engine.Engine
	Client  *http.Client
	Ctx     context.Context
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	conn, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("desk-test")
	tr, err := i18n.New(cfg.Locale.Default)
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	eng := engine.New(conn, cfg, tr, notify.NewMemory())
	ctx := context.Background()
	if err := eng.SeedCategories(ctx); err != nil {
		t.Fatalf("seed categories: %v", err)
	}
	if err := eng.SetActorRole(ctx, "admin", "rev-1", domain.RoleReviewer); err != nil {
		t.Fatalf("bootstrap reviewer: %v", err)
	}

	handler, err := New(Config{
		Engine: eng,
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return testServer{
		BaseURL: "http://" + ln.Addr().String(),
		Engine:  eng,
		Client:  &http.Client{Timeout: 5 * time.Second},
		Ctx:     ctx,
	}
}

func doJSON(t *testing.T, ts testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.BaseURL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodGet, "/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/requests", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("error code %q, want unauthorized", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	ts := newTestServer(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	resp, body := doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d, want 401", resp.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t)
	plaintext, _, err := ts.Engine.CreateAPIKey(ts.Ctx, "alice", "ci")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{
		"X-Api-Key": plaintext,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{
		"X-Api-Key": "dk_bogus",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bogus key: %d, want 401", resp.StatusCode)
	}
}

// intakeRequest drives the conversation endpoints through a full submission
// and returns the created request's id.
func intakeRequest(t *testing.T, ts testServer, actorID string) string {
	t.Helper()
	resp, body := doJSON(t, ts, http.MethodGet, "/v0/categories", nil, asActor(actorID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("categories: %d %s", resp.StatusCode, body)
	}
	var cats []domain.Category
	if err := json.Unmarshal(body, &cats); err != nil || len(cats) == 0 {
		t.Fatalf("decode categories: %v (%s)", err, body)
	}

	steps := []any{
		map[string]any{"action": "new"},
		map[string]any{"action": "category", "category_id": cats[0].ID},
	}
	for _, step := range steps {
		resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions", step, asActor(actorID))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("action %v: %d %s", step, resp.StatusCode, body)
		}
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/messages", map[string]any{
		"text": "The March invoice is missing the second line item, please check.",
	}, asActor(actorID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions", map[string]any{"action": "confirm"}, asActor(actorID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d %s", resp.StatusCode, body)
	}
	var out OutcomeResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Result != "ok" {
		t.Fatalf("confirm outcome: %v %s", err, body)
	}

	resp, body = doJSON(t, ts, http.MethodGet,
		fmt.Sprintf("/v0/requests?status=pending&requester_id=%s", actorID), nil, asActor(actorID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var items []domain.Request
	if err := json.Unmarshal(body, &items); err != nil || len(items) != 1 {
		t.Fatalf("decode requests: %v (%s)", err, body)
	}
	return items[0].ID
}

func TestIntakeOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := intakeRequest(t, ts, "alice")

	resp, body := doJSON(t, ts, http.MethodGet, "/v0/requests/"+id, nil, asActor("alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get request: %d %s", resp.StatusCode, body)
	}
	var req domain.Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if req.Status != domain.StatusPending || req.RequesterID != "alice" {
		t.Fatalf("unexpected request: %+v", req)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/requests/nope", nil, asActor("alice"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing request: %d, want 404", resp.StatusCode)
	}
}

func TestEmptyInteractionBadRequest(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodPost, "/v0/messages", map[string]any{"text": "  "}, asActor("alice"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank text: %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodPost, "/v0/actions", map[string]any{"action": ""}, asActor("alice"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank action: %d, want 400", resp.StatusCode)
	}
}

func TestReviewerGating(t *testing.T) {
	ts := newTestServer(t)
	payload := map[string]any{"name": "Legal", "tag": "legal"}

	resp, _ := doJSON(t, ts, http.MethodPost, "/v0/categories", payload, asActor("alice"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("create as requester: %d, want 403", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/events", nil, asActor("alice"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("events as requester: %d, want 403", resp.StatusCode)
	}

	resp, body := doJSON(t, ts, http.MethodPost, "/v0/categories", payload, asActor("rev-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create as reviewer: %d %s", resp.StatusCode, body)
	}
	resp, _ = doJSON(t, ts, http.MethodPost, "/v0/categories", payload, asActor("rev-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate tag: %d, want 409", resp.StatusCode)
	}
}

func TestLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := intakeRequest(t, ts, "alice")

	resp, body := doJSON(t, ts, http.MethodPost, "/v0/actions",
		map[string]any{"action": "approve", "request_id": id}, asActor("rev-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v0/pool", nil, asActor("bob"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pool: %d %s", resp.StatusCode, body)
	}
	var pool []domain.Request
	if err := json.Unmarshal(body, &pool); err != nil || len(pool) != 1 || pool[0].ID != id {
		t.Fatalf("pool contents: %v (%s)", err, body)
	}

	// first take wins
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions",
		map[string]any{"action": "take", "request_id": id}, asActor("bob"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("take: %d %s", resp.StatusCode, body)
	}
	var out OutcomeResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Result != "ok" {
		t.Fatalf("take outcome: %v %s", err, body)
	}

	// a losing take is a conflict outcome, not an HTTP error
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions",
		map[string]any{"action": "take", "request_id": id}, asActor("carol"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("losing take: %d %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &out); err != nil || out.Result != "conflict" || out.Reason != "already_handled" {
		t.Fatalf("losing take outcome: %v %s", err, body)
	}

	// answer and close
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/messages",
		map[string]any{"text": "Re-issued the invoice with the missing line item."}, asActor("bob"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer text: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions",
		map[string]any{"action": "confirm"}, asActor("bob"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm answer: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodPost, "/v0/actions",
		map[string]any{"action": "approve_answer", "request_id": id}, asActor("rev-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve answer: %d %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/v0/requests/"+id, nil, asActor("alice"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("final get: %d", resp.StatusCode)
	}
	var req domain.Request
	if err := json.Unmarshal(body, &req); err != nil || req.Status != domain.StatusClosed {
		t.Fatalf("final status: %v %s", err, body)
	}
}

func TestAPIKeyLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodPost, "/v0/apikeys",
		map[string]any{"actor_id": "alice", "name": "ci"}, asActor("rev-1"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", resp.StatusCode, body)
	}
	var created APIKeyResponse
	if err := json.Unmarshal(body, &created); err != nil || created.Key == "" {
		t.Fatalf("plaintext key missing: %v %s", err, body)
	}

	// listing never exposes the plaintext
	resp, body = doJSON(t, ts, http.MethodGet, "/v0/apikeys", nil, asActor("rev-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list keys: %d %s", resp.StatusCode, body)
	}
	var keys []APIKeyResponse
	if err := json.Unmarshal(body, &keys); err != nil || len(keys) != 1 {
		t.Fatalf("decode keys: %v %s", err, body)
	}
	if keys[0].Key != "" {
		t.Fatalf("plaintext leaked in list")
	}

	// the minted key authenticates as its actor
	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{"X-Api-Key": created.Key})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("minted key auth: %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, ts, http.MethodDelete, "/v0/apikeys/"+created.ID, nil, asActor("rev-1"))
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/requests", nil, map[string]string{"X-Api-Key": created.Key})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key: %d, want 401", resp.StatusCode)
	}
}

func TestActorAdministration(t *testing.T) {
	ts := newTestServer(t)
	intakeRequest(t, ts, "mallory")

	resp, _ := doJSON(t, ts, http.MethodPost, "/v0/actors/mallory/ban", nil, asActor("rev-1"))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ban: %d", resp.StatusCode)
	}
	resp, body := doJSON(t, ts, http.MethodPost, "/v0/actions", map[string]any{"action": "new"}, asActor("mallory"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("banned action: %d", resp.StatusCode)
	}
	var out OutcomeResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Result != "rejected" || out.Reason != "banned" {
		t.Fatalf("banned outcome: %v %s", err, body)
	}

	resp, body = doJSON(t, ts, http.MethodPut, "/v0/actors/rev-2/role",
		map[string]any{"role": "reviewer"}, asActor("rev-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set role: %d %s", resp.StatusCode, body)
	}
	var actor domain.Actor
	if err := json.Unmarshal(body, &actor); err != nil || actor.Role != domain.RoleReviewer {
		t.Fatalf("role response: %v %s", err, body)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/v0/events", nil, asActor("rev-2"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events as new reviewer: %d", resp.StatusCode)
	}
}
