package handlers_test

import (
	"context"
	"net/http"
	"testing"

	"wavecrate.app/server/handlers"
	"wavecrate.app/server/internal/testutil"
	"wavecrate.app/server/storage"
)

func adminFixture(t *testing.T) (*handlers.Server, *storage.MemoryStorage, string) {
	t.Helper()
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	admin := testutil.CreateTestAdmin("admin", "admin", 0)
	user := testutil.CreateTestUser("u1", "alice", 2)
	if err := db.SaveUser(context.Background(), &admin); err != nil {
		t.Fatalf("Failed to save admin: %v", err)
	}
	if err := db.SaveUser(context.Background(), &user); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}
	return server, db, testutil.LoginAs(t, db, "admin")
}

func TestGrantCredits(t *testing.T) {
	server, db, token := adminFixture(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/grants", token, handlers.GrantRequest{
		RecipientID: "u1",
		Amount:      8,
		Note:        "welcome",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp handlers.GrantResponse
	decodeBody(t, rec, &resp)
	if resp.Outcome.Kind != "ok" {
		t.Errorf("Expected outcome ok, got %q", resp.Outcome.Kind)
	}
	if resp.Balance != 10 {
		t.Errorf("Expected balance 10, got %d", resp.Balance)
	}
	if resp.GrantID == "" {
		t.Error("Expected a grant ID")
	}

	user, err := db.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if user.Credits != 10 {
		t.Errorf("Expected recipient balance 10, got %d", user.Credits)
	}
}

func TestGrantInvalidAmount(t *testing.T) {
	server, _, token := adminFixture(t)

	for _, amount := range []int64{0, -5} {
		rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/grants", token, handlers.GrantRequest{
			RecipientID: "u1",
			Amount:      amount,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Amount %d: expected status 400, got %d", amount, rec.Code)
		}
	}
}

func TestGrantUnknownRecipient(t *testing.T) {
	server, db, token := adminFixture(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/grants", token, handlers.GrantRequest{
		RecipientID: "ghost",
		Amount:      5,
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	grants, err := db.RecentGrants(context.Background(), 10)
	if err != nil {
		t.Fatalf("Failed to list grants: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("Expected no audit record for a failed grant, got %d", len(grants))
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	server, db, _ := adminFixture(t)
	userToken := testutil.LoginAs(t, db, "u1")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/grants", userToken, handlers.GrantRequest{
		RecipientID: "u1",
		Amount:      5,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for non-admin, got %d", rec.Code)
	}
}

func TestListGrants(t *testing.T) {
	server, _, token := adminFixture(t)

	for _, amount := range []int64{3, 7} {
		rec := doRequest(t, server, http.MethodPost, "/api/v1/admin/grants", token, handlers.GrantRequest{
			RecipientID: "u1",
			Amount:      amount,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Grant of %d failed with %d", amount, rec.Code)
		}
	}

	rec := doRequest(t, server, http.MethodGet, "/api/v1/admin/grants", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body struct {
		Grants []struct {
			Amount int64 `json:"amount"`
		} `json:"grants"`
	}
	decodeBody(t, rec, &body)
	if len(body.Grants) != 2 {
		t.Errorf("Expected 2 grants, got %d", len(body.Grants))
	}
}

func TestListUsers(t *testing.T) {
	server, _, token := adminFixture(t)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/admin/users", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body struct {
		Users []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	decodeBody(t, rec, &body)
	if len(body.Users) != 2 {
		t.Errorf("Expected 2 users, got %d", len(body.Users))
	}
}
