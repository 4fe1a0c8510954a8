package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wavecrate.app/server/delivery"
	"wavecrate.app/server/handlers"
	"wavecrate.app/server/models"
	"wavecrate.app/server/storage"
)

// TestStorage creates an empty in-memory storage.
func TestStorage() *storage.MemoryStorage {
	return storage.NewMemoryStorage()
}

// CreateTestUser builds a user with the given balance. The password hash is
// a placeholder; tests that exercise login go through the register handler
// instead.
func CreateTestUser(id, name string, credits int64) models.User {
	now := time.Now().UTC()
	return models.User{
		ID:           id,
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		Salt:         "x",
		Credits:      credits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CreateTestAdmin is CreateTestUser with the admin flag set.
func CreateTestAdmin(id, name string, credits int64) models.User {
	admin := CreateTestUser(id, name, credits)
	admin.IsAdmin = true
	return admin
}

// CreateTestSample builds a sample whose filename is derived from its ID.
func CreateTestSample(id, title string, credits int64, packID string) models.Sample {
	return models.Sample{
		ID:        id,
		Title:     title,
		Filename:  id + ".wav",
		Kind:      models.KindSample,
		Credits:   credits,
		PackID:    packID,
		CreatedAt: time.Now().UTC(),
	}
}

func CreateTestPack(id, name string) models.Pack {
	return models.Pack{
		ID:        id,
		Name:      name,
		Genre:     "test",
		CreatedAt: time.Now().UTC(),
	}
}

// SeedCatalog stores one pack of three samples priced 3, 5, and 2 credits
// plus one standalone sample priced 4, the shapes most purchase tests need.
func SeedCatalog(t *testing.T, db storage.Storage) {
	t.Helper()
	ctx := context.Background()

	pack := CreateTestPack("pack1", "Test Pack")
	if err := db.SavePack(ctx, &pack); err != nil {
		t.Fatalf("Failed to save pack: %v", err)
	}

	samples := []models.Sample{
		CreateTestSample("s1", "Kick", 3, "pack1"),
		CreateTestSample("s2", "Snare", 5, "pack1"),
		CreateTestSample("s3", "Hat", 2, "pack1"),
		CreateTestSample("solo", "Solo", 4, ""),
	}
	for _, sample := range samples {
		s := sample
		if err := db.SaveSample(ctx, &s); err != nil {
			t.Fatalf("Failed to save sample %s: %v", s.ID, err)
		}
	}
}

// WriteContent creates a backing file for each sample under dir.
func WriteContent(t *testing.T, dir string, samples ...models.Sample) {
	t.Helper()
	for _, sample := range samples {
		path := filepath.Join(dir, sample.Filename)
		if err := os.WriteFile(path, []byte("audio-"+sample.ID), 0o644); err != nil {
			t.Fatalf("Failed to write content file %s: %v", path, err)
		}
	}
}

// SeedContent writes backing files for the SeedCatalog samples.
func SeedContent(t *testing.T, dir string) {
	t.Helper()
	WriteContent(t, dir,
		CreateTestSample("s1", "Kick", 3, "pack1"),
		CreateTestSample("s2", "Snare", 5, "pack1"),
		CreateTestSample("s3", "Hat", 2, "pack1"),
		CreateTestSample("solo", "Solo", 4, ""),
	)
}

// NewTestServer wires a server over the given storage with content served
// from a fresh temp dir, and returns both.
func NewTestServer(t *testing.T, db storage.Storage) (*handlers.Server, string) {
	t.Helper()
	contentDir := t.TempDir()
	server := handlers.NewServer(db, delivery.New(contentDir), handlers.Options{
		Version: "test",
	})
	return server, contentDir
}

// LoginAs mints a session for the user directly and returns its token.
func LoginAs(t *testing.T, db storage.Storage, userID string) string {
	t.Helper()
	now := time.Now().UTC()
	session := &models.Session{
		Token:     "test-token-" + userID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.SaveSession(context.Background(), session); err != nil {
		t.Fatalf("Failed to save session: %v", err)
	}
	return session.Token
}
