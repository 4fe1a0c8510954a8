package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"wavecrate.app/server/internal/testutil"
	"wavecrate.app/server/models"
	"wavecrate.app/server/storage"
)

func newSQLiteStorage(t *testing.T) storage.Storage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	return db
}

func TestSQLiteStorageConformance(t *testing.T) {
	testutil.RunStorageSuite(t, newSQLiteStorage)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := storage.NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("Failed to open sqlite storage: %v", err)
	}
	user := testutil.CreateTestUser("u1", "alice", 10)
	if err := db.SaveUser(ctx, &user); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Failed to close storage: %v", err)
	}

	// Reopening runs the migrations again; they must be a no-op and the
	// data must still be there.
	db, err = storage.NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("Failed to reopen sqlite storage: %v", err)
	}
	defer db.Close()

	got, err := db.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to get user: %v", err)
	}
	if got == nil || got.Credits != 10 {
		t.Errorf("Expected persisted user with 10 credits, got %+v", got)
	}
}

func TestSQLiteLicenseOutlivesCatalogRow(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteStorage(t)
	defer db.Close()

	user := testutil.CreateTestUser("u1", "alice", 10)
	if err := db.SaveUser(ctx, &user); err != nil {
		t.Fatalf("Failed to save user: %v", err)
	}

	// Licenses deliberately carry no foreign key to samples, so a license
	// stays queryable even when the catalog row it was bought from is gone.
	if _, err := db.ApplyPurchase(ctx, "u1", []models.PurchaseLine{
		{SampleID: "retired-sample", Credits: 3},
	}); err != nil {
		t.Fatalf("Purchase failed: %v", err)
	}

	owned, err := db.HasLicense(ctx, "u1", "retired-sample")
	if err != nil {
		t.Fatalf("Failed to check license: %v", err)
	}
	if !owned {
		t.Error("Expected license without a matching catalog row")
	}
	licenses, err := db.LicensesFor(ctx, "u1")
	if err != nil {
		t.Fatalf("Failed to list licenses: %v", err)
	}
	if len(licenses) != 1 {
		t.Errorf("Expected one license, got %d", len(licenses))
	}
}
