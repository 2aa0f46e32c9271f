package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"explab/apps/server/internal/auth"
	"explab/apps/server/internal/keys"
	"explab/apps/server/internal/lab"
	"explab/apps/server/internal/store"
	"explab/dilemma"
	"explab/dilemma/strategy"
)

type testServer struct {
	mux   *http.ServeMux
	auth  auth.Service
	keys  keys.Service
	store store.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	authService := auth.NewManager(time.Hour)
	keyService := keys.NewMemoryService(16)
	recordStore := store.NewMemoryService()
	registry := strategy.NewRegistry()
	manager, err := lab.New(recordStore, registry, 8, nil)
	if err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	NewHandler(authService, keyService, recordStore, manager, registry).RegisterRoutes(mux)
	return &testServer{mux: mux, auth: authService, keys: keyService, store: recordStore}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	if _, err := ts.auth.CreateAdmin("labadmin", "correct-horse"); err != nil {
		t.Fatal(err)
	}
	rec := ts.do(t, http.MethodPost, "/api/admin/login", "", loginRequest{Username: "labadmin", Password: "correct-horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, rec, &resp)
	return resp.Token
}

func (ts *testServer) createExperiment(t *testing.T, token string, rounds, keyCount int) (int64, []string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/admin/experiments", token, createExperimentRequest{
		Name:        "study",
		TotalRounds: rounds,
		Strategy:    strategy.TitForTat,
		KeyCount:    keyCount,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create experiment status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Experiment store.Experiment `json:"experiment"`
		Keys       []string         `json:"keys"`
	}
	decode(t, rec, &resp)
	return resp.Experiment.ID, resp.Keys
}

func TestRedeemAndPlayThrough(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	_, mintedKeys := ts.createExperiment(t, admin, 2, 1)

	rec := ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem status %d: %s", rec.Code, rec.Body.String())
	}
	var redeemed struct {
		Token   string           `json:"token"`
		Session dilemma.Snapshot `json:"session"`
	}
	decode(t, rec, &redeemed)
	if redeemed.Token == "" {
		t.Fatal("no participant token issued")
	}
	if redeemed.Session.State != "in_progress" {
		t.Fatalf("session state %s", redeemed.Session.State)
	}

	// The same key must not open a second session.
	rec = ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second redeem status %d", rec.Code)
	}

	for i, move := range []string{"cooperate", "defect"} {
		rec = ts.do(t, http.MethodPost, "/api/session/decision", redeemed.Token, decisionRequest{Decision: move})
		if rec.Code != http.StatusOK {
			t.Fatalf("round %d status %d: %s", i+1, rec.Code, rec.Body.String())
		}
	}

	rec = ts.do(t, http.MethodGet, "/api/session", redeemed.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress status %d", rec.Code)
	}
	var progress struct {
		Session dilemma.Snapshot `json:"session"`
	}
	decode(t, rec, &progress)
	if progress.Session.State != "completed" {
		t.Fatalf("final state %s", progress.Session.State)
	}
	// tit-for-tat: (C,C)=3 then (D,C)=5 for the participant.
	if progress.Session.ParticipantTotal != 8 {
		t.Fatalf("participant total %d, want 8", progress.Session.ParticipantTotal)
	}

	rec = ts.do(t, http.MethodPost, "/api/session/decision", redeemed.Token, decisionRequest{Decision: "defect"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("post-completion decision status %d", rec.Code)
	}
}

func TestInvalidDecisionRejected(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	_, mintedKeys := ts.createExperiment(t, admin, 2, 1)

	rec := ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	var redeemed struct {
		Token string `json:"token"`
	}
	decode(t, rec, &redeemed)

	rec = ts.do(t, http.MethodPost, "/api/session/decision", redeemed.Token, decisionRequest{Decision: "betray"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}

func TestUnknownKeyAndBadToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: "bogus"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key status %d", rec.Code)
	}
	rec = ts.do(t, http.MethodGet, "/api/session", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status %d", rec.Code)
	}
}

func TestAdminEndpointsRequireSession(t *testing.T) {
	ts := newTestServer(t)

	for _, probe := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/admin/experiments"},
		{http.MethodGet, "/api/admin/experiments/1"},
		{http.MethodGet, "/api/admin/strategies"},
		{http.MethodPost, "/api/admin/keys/revoke"},
		{http.MethodGet, "/api/admin/sessions/x/transcript"},
	} {
		rec := ts.do(t, probe.method, probe.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s status %d, want 401", probe.method, probe.path, rec.Code)
		}
	}
}

func TestCreateExperimentRejectsUnknownStrategy(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/experiments", admin, createExperimentRequest{
		Name:        "study",
		TotalRounds: 3,
		Strategy:    "mind_reader",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestExperimentDetailAndRevoke(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	expID, mintedKeys := ts.createExperiment(t, admin, 2, 3)

	rec := ts.do(t, http.MethodPost, "/api/admin/keys/revoke", admin, revokeKeyRequest{Key: mintedKeys[0]})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke status %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	if rec.Code != http.StatusConflict {
		t.Fatalf("revoked redeem status %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/admin/experiments/%d", expID), admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status %d: %s", rec.Code, rec.Body.String())
	}
	var detail struct {
		Keys         []keys.Key     `json:"keys"`
		Participants map[string]int `json:"participants"`
	}
	decode(t, rec, &detail)
	if len(detail.Keys) != 3 {
		t.Fatalf("detail lists %d keys, want 3", len(detail.Keys))
	}
}

func TestDeactivatedExperimentBlocksRedemption(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	expID, mintedKeys := ts.createExperiment(t, admin, 2, 1)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/admin/experiments/%d/active", expID), admin, setActiveRequest{Active: false})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivate status %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	if rec.Code != http.StatusConflict {
		t.Fatalf("redeem on closed experiment status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTranscriptDownload(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	expID, mintedKeys := ts.createExperiment(t, admin, 1, 1)

	rec := ts.do(t, http.MethodPost, "/api/keys/redeem", "", redeemRequest{Key: mintedKeys[0]})
	var redeemed struct {
		Token   string           `json:"token"`
		Session dilemma.Snapshot `json:"session"`
	}
	decode(t, rec, &redeemed)
	if rec := ts.do(t, http.MethodPost, "/api/session/decision", redeemed.Token, decisionRequest{Decision: "cooperate"}); rec.Code != http.StatusOK {
		t.Fatalf("decision status %d: %s", rec.Code, rec.Body.String())
	}

	items, err := ts.store.ListResults(context.Background(), expID)
	if err != nil || len(items) != 1 {
		t.Fatalf("results: %v, %d items", err, len(items))
	}

	rec = ts.do(t, http.MethodGet, "/api/admin/sessions/"+items[0].SessionID+"/transcript", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript status %d: %s", rec.Code, rec.Body.String())
	}
	var tr struct {
		FormatVersion int `json:"format_version"`
		Rounds        []struct {
			Participant string `json:"participant"`
		} `json:"rounds"`
	}
	decode(t, rec, &tr)
	if tr.FormatVersion != 1 || len(tr.Rounds) != 1 || tr.Rounds[0].Participant != "cooperate" {
		t.Fatalf("transcript payload %s", rec.Body.String())
	}
}
