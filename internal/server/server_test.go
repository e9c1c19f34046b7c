package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"preflight/internal/config"
	"preflight/internal/db"
	"preflight/internal/domain"
	"preflight/internal/engine"
	"preflight/internal/migrate"
	"preflight/internal/store"
)

const testJWTSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/diagnostics", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("error envelope: %v (%s)", err, data)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code %q", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "jwt-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/diagnostics", nil, map[string]string{
		"Authorization": "Bearer " + signed,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	secret := "super-secret-key"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), store.APIKey{
		ID:      "key-1",
		ActorID: "key-user",
		KeyHash: store.HashAPIKey(secret),
	})
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/diagnostics", nil, map[string]string{
		"X-Api-Key": secret,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/diagnostics", nil, map[string]string{
		"X-Api-Key": "wrong",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key status %d", res.StatusCode)
	}
}

func TestPutDatasetRows(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := map[string]any{
		"rows": []map[string]any{
			{"ClientID": "C1", "ClientName": "Acme", "PriorityLevel": 3, "RequestedTaskIDs": "T9"},
		},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/datasets/clients/rows", body, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out ImportResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Records != 1 || len(out.Cross) != 1 {
		t.Fatalf("response: %+v", out)
	}
}

func TestPutDatasetRowsUnknownKind(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	body := map[string]any{"rows": []map[string]any{}}
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/datasets/robots/rows", body, actorHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestEditRecordEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	put := map[string]any{
		"rows": []map[string]any{
			{"ClientID": "C1", "ClientName": "Acme", "PriorityLevel": 3},
		},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/datasets/clients/rows", put, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, data)
	}
	edit := map[string]any{"field": "ClientName", "value": "Initech"}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/datasets/clients/records/C1", edit, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("edit status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/datasets/clients/records/C9", edit, actorHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing record status %d: %s", res.StatusCode, data)
	}
}

func TestRulesEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	rules := map[string]any{
		"rules": []map[string]any{{
			"id":     "r1",
			"type":   "coRun",
			"name":   "pair",
			"params": map[string]any{"taskIds": []string{"T1", "T2"}},
		}},
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/rules/validate", rules, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var diag DiagnosticsResponse
	if err := json.Unmarshal(data, &diag); err != nil {
		t.Fatal(err)
	}
	if len(diag.Diagnostics) != 2 {
		t.Fatalf("want findings for both missing tasks: %+v", diag.Diagnostics)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/rules", rules, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/rules", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var listed struct {
		Rules []domain.Rule `json:"rules"`
	}
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Rules) != 1 || listed.Rules[0].CoRun == nil {
		t.Fatalf("rules: %+v", listed.Rules)
	}
}

func TestWeightsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/weights", map[string]any{
		"weights": map[string]float64{"a": 2, "b": 2},
	}, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put status %d: %s", res.StatusCode, data)
	}
	var out WeightsResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Weights["a"] != 0.5 {
		t.Fatalf("weights: %v", out.Weights)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/weights", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, data)
	}
}

func TestExportRulesDocument(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/export/rules", nil, actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("document: %v (%s)", err, data)
	}
	if _, ok := doc["rules"]; !ok {
		t.Fatalf("document: %s", data)
	}
}
