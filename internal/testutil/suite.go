package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"wavecrate.app/server/ledger"
	"wavecrate.app/server/models"
	"wavecrate.app/server/storage"
)

// RunStorageSuite runs the conformance tests every Storage implementation
// must pass. Both backends are exercised with it, so the ledger semantics
// cannot drift between SQLite and the in-memory store tests rely on.
func RunStorageSuite(t *testing.T, newStore func(t *testing.T) storage.Storage) {
	ctx := context.Background()

	t.Run("UserOperations", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("u1", "alice", 10)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		got, err := db.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if got == nil || got.Name != "alice" || got.Credits != 10 {
			t.Errorf("Unexpected user %+v", got)
		}

		byName, err := db.FindUserByName(ctx, "alice")
		if err != nil {
			t.Fatalf("Failed to find user by name: %v", err)
		}
		if byName == nil || byName.ID != "u1" {
			t.Errorf("Expected user u1, got %+v", byName)
		}

		missing, err := db.GetUser(ctx, "nope")
		if err != nil {
			t.Errorf("Expected no error for missing user, got %v", err)
		}
		if missing != nil {
			t.Errorf("Expected nil for missing user, got %+v", missing)
		}
	})

	t.Run("PackTotalsAreLive", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		pack := CreateTestPack("p1", "Pack")
		if err := db.SavePack(ctx, &pack); err != nil {
			t.Fatalf("Failed to save pack: %v", err)
		}

		s1 := CreateTestSample("a", "A", 3, "p1")
		if err := db.SaveSample(ctx, &s1); err != nil {
			t.Fatalf("Failed to save sample: %v", err)
		}

		got, err := db.GetPack(ctx, "p1")
		if err != nil {
			t.Fatalf("Failed to get pack: %v", err)
		}
		if got.SampleCount != 1 || got.TotalCredits != 3 {
			t.Errorf("Expected count=1 total=3, got count=%d total=%d", got.SampleCount, got.TotalCredits)
		}

		// Membership changed: the total must follow without any cache.
		s2 := CreateTestSample("b", "B", 5, "p1")
		if err := db.SaveSample(ctx, &s2); err != nil {
			t.Fatalf("Failed to save sample: %v", err)
		}

		got, err = db.GetPack(ctx, "p1")
		if err != nil {
			t.Fatalf("Failed to get pack: %v", err)
		}
		if got.SampleCount != 2 || got.TotalCredits != 8 {
			t.Errorf("Expected count=2 total=8, got count=%d total=%d", got.SampleCount, got.TotalCredits)
		}

		members, err := db.SamplesInPack(ctx, "p1")
		if err != nil {
			t.Fatalf("Failed to list pack samples: %v", err)
		}
		if len(members) != 2 {
			t.Errorf("Expected 2 members, got %d", len(members))
		}
	})

	t.Run("PurchaseChargesAndLicenses", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("buyer", "buyer", 10)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		receipt, err := db.ApplyPurchase(ctx, "buyer", []models.PurchaseLine{
			{SampleID: "x", Credits: 4},
		})
		if err != nil {
			t.Fatalf("Purchase failed: %v", err)
		}
		if receipt.Charged != 4 || receipt.Balance != 6 {
			t.Errorf("Expected charged=4 balance=6, got charged=%d balance=%d", receipt.Charged, receipt.Balance)
		}

		owned, err := db.HasLicense(ctx, "buyer", "x")
		if err != nil {
			t.Fatalf("Failed to check license: %v", err)
		}
		if !owned {
			t.Error("Expected license after purchase")
		}

		licenses, err := db.LicensesFor(ctx, "buyer")
		if err != nil {
			t.Fatalf("Failed to list licenses: %v", err)
		}
		if len(licenses) != 1 || licenses[0].CreditsSpent != 4 {
			t.Errorf("Expected one license spending 4, got %+v", licenses)
		}
	})

	t.Run("RepeatPurchaseIsFree", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("buyer", "buyer", 10)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		lines := []models.PurchaseLine{{SampleID: "x", Credits: 4}}
		if _, err := db.ApplyPurchase(ctx, "buyer", lines); err != nil {
			t.Fatalf("First purchase failed: %v", err)
		}

		receipt, err := db.ApplyPurchase(ctx, "buyer", lines)
		if err != nil {
			t.Fatalf("Second purchase failed: %v", err)
		}
		if receipt.Charged != 0 {
			t.Errorf("Expected no charge on repeat, got %d", receipt.Charged)
		}
		if receipt.Balance != 6 {
			t.Errorf("Expected balance 6 after repeat, got %d", receipt.Balance)
		}

		licenses, err := db.LicensesFor(ctx, "buyer")
		if err != nil {
			t.Fatalf("Failed to list licenses: %v", err)
		}
		if len(licenses) != 1 {
			t.Errorf("Expected exactly one license, got %d", len(licenses))
		}
	})

	t.Run("InsufficientFundsChangesNothing", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("poor", "poor", 3)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		_, err := db.ApplyPurchase(ctx, "poor", []models.PurchaseLine{
			{SampleID: "x", Credits: 4},
		})
		if !errors.Is(err, ledger.ErrInsufficientFunds) {
			t.Fatalf("Expected ErrInsufficientFunds, got %v", err)
		}

		got, err := db.GetUser(ctx, "poor")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if got.Credits != 3 {
			t.Errorf("Expected balance unchanged at 3, got %d", got.Credits)
		}

		licenses, err := db.LicensesFor(ctx, "poor")
		if err != nil {
			t.Fatalf("Failed to list licenses: %v", err)
		}
		if len(licenses) != 0 {
			t.Errorf("Expected no licenses, got %d", len(licenses))
		}
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("racer", "racer", 5)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		// Two debits of 3 against a balance of 5: exactly one may win.
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = db.ApplyPurchase(ctx, "racer", []models.PurchaseLine{
					{SampleID: uuid.NewString(), Credits: 3},
				})
			}(i)
		}
		wg.Wait()

		var failures int
		for _, err := range errs {
			if err != nil {
				if !errors.Is(err, ledger.ErrInsufficientFunds) {
					t.Fatalf("Unexpected error: %v", err)
				}
				failures++
			}
		}
		if failures != 1 {
			t.Errorf("Expected exactly one InsufficientFunds failure, got %d", failures)
		}

		got, err := db.GetUser(ctx, "racer")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if got.Credits != 2 {
			t.Errorf("Expected balance 2, got %d", got.Credits)
		}
	})

	t.Run("ConcurrentSamePurchaseChargesOnce", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("twice", "twice", 100)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		lines := []models.PurchaseLine{
			{SampleID: "a", Credits: 3},
			{SampleID: "b", Credits: 5},
		}

		var wg sync.WaitGroup
		receipts := make([]*models.PurchaseReceipt, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				receipts[i], errs[i] = db.ApplyPurchase(ctx, "twice", lines)
			}(i)
		}
		wg.Wait()

		var totalCharged int64
		for i := 0; i < 2; i++ {
			if errs[i] != nil {
				t.Fatalf("Purchase %d failed: %v", i, errs[i])
			}
			totalCharged += receipts[i].Charged
		}
		if totalCharged != 8 {
			t.Errorf("Expected 8 credits charged across both submissions, got %d", totalCharged)
		}

		got, err := db.GetUser(ctx, "twice")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if got.Credits != 92 {
			t.Errorf("Expected balance 92, got %d", got.Credits)
		}

		licenses, err := db.LicensesFor(ctx, "twice")
		if err != nil {
			t.Fatalf("Failed to list licenses: %v", err)
		}
		if len(licenses) != 2 {
			t.Errorf("Expected 2 licenses, got %d", len(licenses))
		}
	})

	t.Run("GrantCreditsAndAudit", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		admin := CreateTestAdmin("admin", "admin", 0)
		user := CreateTestUser("u1", "alice", 2)
		for _, u := range []models.User{admin, user} {
			saved := u
			if err := db.SaveUser(ctx, &saved); err != nil {
				t.Fatalf("Failed to save user: %v", err)
			}
		}

		grant := &models.CreditGrant{
			ID:          uuid.NewString(),
			GrantorID:   "admin",
			RecipientID: "u1",
			Amount:      8,
			Note:        "welcome",
			CreatedAt:   time.Now().UTC(),
		}
		balance, err := db.ApplyGrant(ctx, grant)
		if err != nil {
			t.Fatalf("Grant failed: %v", err)
		}
		if balance != 10 {
			t.Errorf("Expected balance 10, got %d", balance)
		}

		grants, err := db.RecentGrants(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list grants: %v", err)
		}
		if len(grants) != 1 {
			t.Fatalf("Expected one audit record, got %d", len(grants))
		}
		if grants[0].Amount != 8 || grants[0].RecipientID != "u1" || grants[0].GrantorID != "admin" {
			t.Errorf("Unexpected audit record %+v", grants[0])
		}
	})

	t.Run("GrantUnknownRecipient", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		grant := &models.CreditGrant{
			ID:          uuid.NewString(),
			GrantorID:   "admin",
			RecipientID: "ghost",
			Amount:      5,
			CreatedAt:   time.Now().UTC(),
		}
		_, err := db.ApplyGrant(ctx, grant)
		if !errors.Is(err, ledger.ErrUnknownRecipient) {
			t.Errorf("Expected ErrUnknownRecipient, got %v", err)
		}

		grants, err := db.RecentGrants(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list grants: %v", err)
		}
		if len(grants) != 0 {
			t.Errorf("Expected no audit records, got %d", len(grants))
		}
	})

	t.Run("ConcurrentGrantsSum", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		admin := CreateTestAdmin("admin", "admin", 0)
		user := CreateTestUser("u1", "alice", 0)
		for _, u := range []models.User{admin, user} {
			saved := u
			if err := db.SaveUser(ctx, &saved); err != nil {
				t.Fatalf("Failed to save user: %v", err)
			}
		}

		amounts := []int64{7, 11}
		var wg sync.WaitGroup
		for _, amount := range amounts {
			wg.Add(1)
			go func(amount int64) {
				defer wg.Done()
				grant := &models.CreditGrant{
					ID:          uuid.NewString(),
					GrantorID:   "admin",
					RecipientID: "u1",
					Amount:      amount,
					CreatedAt:   time.Now().UTC(),
				}
				if _, err := db.ApplyGrant(ctx, grant); err != nil {
					t.Errorf("Grant of %d failed: %v", amount, err)
				}
			}(amount)
		}
		wg.Wait()

		got, err := db.GetUser(ctx, "u1")
		if err != nil {
			t.Fatalf("Failed to get user: %v", err)
		}
		if got.Credits != 18 {
			t.Errorf("Expected balance 18 regardless of interleaving, got %d", got.Credits)
		}
	})

	t.Run("Sessions", func(t *testing.T) {
		db := newStore(t)
		defer db.Close()

		user := CreateTestUser("u1", "alice", 0)
		if err := db.SaveUser(ctx, &user); err != nil {
			t.Fatalf("Failed to save user: %v", err)
		}

		now := time.Now().UTC()
		session := &models.Session{
			Token:     "tok",
			UserID:    "u1",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
		if err := db.SaveSession(ctx, session); err != nil {
			t.Fatalf("Failed to save session: %v", err)
		}

		got, err := db.GetSession(ctx, "tok")
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got == nil || got.UserID != "u1" {
			t.Errorf("Unexpected session %+v", got)
		}

		if err := db.DeleteSession(ctx, "tok"); err != nil {
			t.Fatalf("Failed to delete session: %v", err)
		}
		got, err = db.GetSession(ctx, "tok")
		if err != nil {
			t.Fatalf("Failed to get session: %v", err)
		}
		if got != nil {
			t.Errorf("Expected session gone, got %+v", got)
		}
	})
}
