package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"meritline/internal/config"
	"meritline/internal/db"
	"meritline/internal/engine"
	"meritline/internal/migrate"
)

type testServer struct {
	URL    string
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
	cfg := config.Default("meritline")
	cfg.Assignments = map[string]config.Assignment{
		"root":  {Role: "supreme-authority"},
		"admin": {Role: "domain-admin"},
		"lead":  {Role: "team-lead"},
		"dev":   {Role: "worker"},
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	if _, err := e.InitOrg(context.Background(), cfg.Org.ID, "", "root"); err != nil {
		t.Fatalf("init org: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
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
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, actor string) (*http.Response, []byte) {
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
	if actor != "" {
		req.Header.Set("X-Actor-Id", actor)
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
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
}

func submitItem(t *testing.T, srv *testServer, body map[string]any) WorkItemResponse {
	t.Helper()
	if body == nil {
		body = map[string]any{"kind": "report", "title": "weekly report"}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items", body, "dev")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var created WorkItemResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	return created
}

func TestApprovalFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	item := submitItem(t, srv, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/review",
		map[string]any{"decision": "approved"}, "lead")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/decision",
		map[string]any{"decision": "approved"}, "admin")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decision status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/finalize",
		map[string]any{}, "admin")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finalize status %d: %s", res.StatusCode, string(data))
	}
	var final WorkItemResponse
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatal(err)
	}
	if final.Final != "finalized" {
		t.Fatalf("final %s", final.Final)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/"+item.ID+"/timeline", nil, "dev")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline status %d: %s", res.StatusCode, string(data))
	}
	var events []AuditEventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatal(err)
	}
	// submission + review + decision + finalize
	if len(events) != 4 {
		t.Fatalf("timeline length %d: %s", len(events), string(data))
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	item := submitItem(t, srv, nil)

	type envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}

	// worker lacks first-review -> 403 unauthorized_role
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/review",
		map[string]any{"decision": "approved"}, "dev")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "unauthorized_role" {
		t.Fatalf("code %s", env.Error.Code)
	}

	// skipping straight to finalized is not in the table -> 409 illegal_transition
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/finalize",
		map[string]any{}, "admin")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "illegal_transition" {
		t.Fatalf("code %s", env.Error.Code)
	}

	// supreme without justification -> 422 justification_required
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/review",
		map[string]any{"decision": "approved"}, "root")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "justification_required" {
		t.Fatalf("code %s", env.Error.Code)
	}

	// unknown item -> 404
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/items/missing", nil, "dev")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
}

func TestOverrideOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	item := submitItem(t, srv, nil)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/review",
		map[string]any{"decision": "rejected", "note": "incomplete evidence"}, "lead")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/items/"+item.ID+"/override",
		map[string]any{"resolution": "approved", "justification": "evidence recovered"}, "admin")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("override status %d: %s", res.StatusCode, string(data))
	}
	var resolved WorkItemResponse
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Final != "approved" {
		t.Fatalf("final %s", resolved.Final)
	}
}

func TestContributionsOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	item := submitItem(t, srv, map[string]any{
		"kind": "task", "title": "shared task", "rate_cents": 10000,
		"collaborators": []string{"dev", "lead"},
	})

	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/items/"+item.ID+"/contributions",
		map[string]any{"contributions": []map[string]any{
			{"collaborator_id": "dev", "weight": 0.5},
			{"collaborator_id": "lead", "weight": 0.5},
		}}, "dev")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign status %d: %s", res.StatusCode, string(data))
	}

	// a first-line reviewer cannot attest a share
	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/items/"+item.ID+"/contributions/dev/verify", nil, "lead")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("verify as reviewer status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost,
		srv.URL+"/v0/items/"+item.ID+"/contributions/dev/verify", nil, "admin")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var contribs []ContributionResponse
	if err := json.Unmarshal(data, &contribs); err != nil {
		t.Fatal(err)
	}
	verified := false
	for _, c := range contribs {
		if c.CollaboratorID == "dev" && c.Verified {
			verified = true
		}
	}
	if !verified {
		t.Fatalf("dev not verified: %s", string(data))
	}
}
