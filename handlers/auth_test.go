package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"wavecrate.app/server/handlers"
	"wavecrate.app/server/internal/testutil"
)

func doRequest(t *testing.T, server *handlers.Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	server.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("Failed to decode response body %q: %v", rec.Body.String(), err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     "alice",
		"email":    "alice@example.com",
		"password": "hunter22",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]interface{}
	decodeBody(t, rec, &created)
	if created["name"] != "alice" {
		t.Errorf("Expected name alice, got %v", created["name"])
	}
	if created["credits"] != float64(0) {
		t.Errorf("Expected new accounts to start with 0 credits, got %v", created["credits"])
	}
	if _, leaked := created["password_hash"]; leaked {
		t.Error("Password hash must not appear in responses")
	}

	rec = doRequest(t, server, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"name":     "alice",
		"password": "hunter22",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var login handlers.LoginResponse
	decodeBody(t, rec, &login)
	if login.Token == "" {
		t.Error("Expected a session token")
	}

	// The token must authenticate follow-up requests.
	rec = doRequest(t, server, http.MethodGet, "/api/v1/me", login.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200 with session token, got %d", rec.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name": "alice",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without password, got %d", rec.Code)
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	body := map[string]string{"name": "alice", "password": "hunter22"}
	if rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/register", "", body); rec.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", rec.Code)
	}
	if rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/register", "", body); rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate name, got %d", rec.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	doRequest(t, server, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name": "alice", "password": "hunter22",
	})

	rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"name": "alice", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestAuthenticatedRoutesRejectAnonymous(t *testing.T) {
	db := testutil.TestStorage()
	testutil.SeedCatalog(t, db)
	server, _ := testutil.NewTestServer(t, db)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/me"},
		{http.MethodGet, "/api/v1/library"},
		{http.MethodPost, "/api/v1/samples/solo/purchase"},
		{http.MethodGet, "/api/v1/samples/solo/download"},
		{http.MethodPost, "/api/v1/packs/pack1/purchase"},
		{http.MethodPost, "/api/v1/admin/grants"},
	}
	for _, p := range paths {
		rec := doRequest(t, server, p.method, p.path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected status 401, got %d", p.method, p.path, rec.Code)
		}
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	user := testutil.CreateTestUser("u1", "alice", 0)
	if err := db.SaveUser(context.Background(), &user); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}
	token := testutil.LoginAs(t, db, "u1")

	session, err := db.GetSession(context.Background(), token)
	if err != nil || session == nil {
		t.Fatalf("Failed to fetch session: %v", err)
	}
	session.ExpiresAt = session.CreatedAt.Add(-1)
	if err := db.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}

	rec := doRequest(t, server, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for expired session, got %d", rec.Code)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	user := testutil.CreateTestUser("u1", "alice", 0)
	if err := db.SaveUser(context.Background(), &user); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}
	token := testutil.LoginAs(t, db, "u1")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 after logout, got %d", rec.Code)
	}
}
