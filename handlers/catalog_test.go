package handlers_test

import (
	"net/http"
	"testing"

	"wavecrate.app/server/internal/testutil"
)

func TestListPacks(t *testing.T) {
	db := testutil.TestStorage()
	testutil.SeedCatalog(t, db)
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/packs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body struct {
		Packs []struct {
			ID           string `json:"id"`
			SampleCount  int    `json:"sample_count"`
			TotalCredits int64  `json:"total_credits"`
		} `json:"packs"`
	}
	decodeBody(t, rec, &body)
	if len(body.Packs) != 1 {
		t.Fatalf("Expected 1 pack, got %d", len(body.Packs))
	}
	if body.Packs[0].SampleCount != 3 || body.Packs[0].TotalCredits != 10 {
		t.Errorf("Expected count=3 total=10, got count=%d total=%d",
			body.Packs[0].SampleCount, body.Packs[0].TotalCredits)
	}
}

func TestGetPackDetail(t *testing.T) {
	db := testutil.TestStorage()
	testutil.SeedCatalog(t, db)
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/packs/pack1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var body struct {
		Pack *struct {
			Name string `json:"name"`
		} `json:"pack"`
		Samples []struct {
			ID string `json:"id"`
		} `json:"samples"`
	}
	decodeBody(t, rec, &body)
	if body.Pack == nil || body.Pack.Name != "Test Pack" {
		t.Errorf("Unexpected pack %+v", body.Pack)
	}
	if len(body.Samples) != 3 {
		t.Errorf("Expected 3 samples, got %d", len(body.Samples))
	}
}

func TestGetPackNotFound(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/packs/ghost", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestPreviewSampleNeedsNoAuth(t *testing.T) {
	db := testutil.TestStorage()
	testutil.SeedCatalog(t, db)
	server, contentDir := testutil.NewTestServer(t, db)
	testutil.SeedContent(t, contentDir)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/samples/solo/preview", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "audio-solo" {
		t.Errorf("Expected sample bytes, got %q", rec.Body.String())
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Errorf("Expected Accept-Ranges bytes, got %q", got)
	}
}

func TestPreviewSampleMissingContent(t *testing.T) {
	db := testutil.TestStorage()
	testutil.SeedCatalog(t, db)
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/samples/solo/preview", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without backing content, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	db := testutil.TestStorage()
	server, _ := testutil.NewTestServer(t, db)

	rec := doRequest(t, server, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", body.Status)
	}
	if body.Version != "test" {
		t.Errorf("Expected version test, got %q", body.Version)
	}
}
