// Package ledger decides whether purchases and credit grants may proceed
// and delegates their state changes to the store as single atomic units.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wavecrate.app/server/internal/logger"
	"wavecrate.app/server/models"
)

// Store is the durable-store contract the coordinators need. The composite
// operations (ApplyPurchase, ApplyGrant) must apply all their mutations in
// one transaction or none of them; reads that gate a financial decision are
// re-taken inside that transaction by the implementation.
type Store interface {
	GetUser(ctx context.Context, id string) (*models.User, error)

	GetSample(ctx context.Context, id string) (*models.Sample, error)
	GetPack(ctx context.Context, id string) (*models.Pack, error)
	SamplesInPack(ctx context.Context, packID string) ([]*models.Sample, error)

	HasLicense(ctx context.Context, userID, sampleID string) (bool, error)
	LicensesFor(ctx context.Context, userID string) ([]*models.License, error)

	ApplyPurchase(ctx context.Context, userID string, candidates []models.PurchaseLine) (*models.PurchaseReceipt, error)
	ApplyGrant(ctx context.Context, grant *models.CreditGrant) (int64, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// PurchaseResult is what a purchase resolved to. Samples is the full member
// set (owned and newly licensed) and is what gets delivered, regardless of
// which members triggered a charge.
type PurchaseResult struct {
	Samples  []*models.Sample
	Owned    []string
	Licensed []string
	Charged  int64
	Balance  int64
	Reaccess bool
}

// PurchaseSample buys a single sample. Repeating the call for an owned
// sample is a re-access: no charge, delivery proceeds.
func (s *Service) PurchaseSample(ctx context.Context, userID, sampleID string) (*PurchaseResult, error) {
	sample, err := s.store.GetSample(ctx, sampleID)
	if err != nil {
		return nil, storeErr("loading sample", err)
	}
	if sample == nil {
		return nil, ErrNotFound
	}
	return s.purchase(ctx, userID, []*models.Sample{sample})
}

// PurchasePack buys every sample in a pack, charging only for members the
// user does not already own. The pack price is the sum of its live members'
// prices, recomputed here on every call.
func (s *Service) PurchasePack(ctx context.Context, userID, packID string) (*PurchaseResult, error) {
	pack, err := s.store.GetPack(ctx, packID)
	if err != nil {
		return nil, storeErr("loading pack", err)
	}
	if pack == nil {
		return nil, ErrNotFound
	}

	members, err := s.store.SamplesInPack(ctx, packID)
	if err != nil {
		return nil, storeErr("resolving pack members", err)
	}
	if len(members) == 0 {
		return nil, ErrEmptyBundle
	}
	return s.purchase(ctx, userID, members)
}

func (s *Service) purchase(ctx context.Context, userID string, members []*models.Sample) (*PurchaseResult, error) {
	result := &PurchaseResult{Samples: members}

	var candidates []models.PurchaseLine
	for _, member := range members {
		owned, err := s.store.HasLicense(ctx, userID, member.ID)
		if err != nil {
			return nil, storeErr("checking ownership", err)
		}
		if owned {
			result.Owned = append(result.Owned, member.ID)
			continue
		}
		candidates = append(candidates, models.PurchaseLine{
			SampleID: member.ID,
			Credits:  member.Credits,
		})
	}

	if len(candidates) == 0 {
		// Everything is owned already: re-access, not a transaction.
		result.Reaccess = true
		user, err := s.store.GetUser(ctx, userID)
		if err != nil {
			return nil, storeErr("loading user", err)
		}
		if user != nil {
			result.Balance = user.Credits
		}
		return result, nil
	}

	// The store re-partitions the candidates against the license table
	// inside its transaction, so a concurrent purchase of the same members
	// degrades this one to a smaller (possibly empty) charge set instead
	// of double-charging.
	receipt, err := s.store.ApplyPurchase(ctx, userID, candidates)
	if err != nil {
		return nil, storeErr("applying purchase", err)
	}

	result.Charged = receipt.Charged
	result.Balance = receipt.Balance
	result.Licensed = receipt.NewSampleIDs
	result.Reaccess = receipt.Charged == 0
	for _, line := range candidates {
		if !contains(receipt.NewSampleIDs, line.SampleID) {
			result.Owned = append(result.Owned, line.SampleID)
		}
	}

	logger.Info("purchase applied", map[string]interface{}{
		"user_id":  userID,
		"charged":  result.Charged,
		"licensed": len(result.Licensed),
		"reaccess": result.Reaccess,
	})
	return result, nil
}

type GrantResult struct {
	Grant   *models.CreditGrant
	Balance int64
}

// Grant credits a recipient and appends one audit record, all-or-nothing.
// There is no limit on grant size or frequency beyond positivity; rate
// limiting is policy layered above this contract.
func (s *Service) Grant(ctx context.Context, grantorID, recipientID string, amount int64, note string) (*GrantResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	grant := &models.CreditGrant{
		ID:          uuid.NewString(),
		GrantorID:   grantorID,
		RecipientID: recipientID,
		Amount:      amount,
		Note:        note,
		CreatedAt:   time.Now().UTC(),
	}

	balance, err := s.store.ApplyGrant(ctx, grant)
	if err != nil {
		return nil, storeErr("applying grant", err)
	}

	logger.Info("credits granted", map[string]interface{}{
		"grantor_id":   grantorID,
		"recipient_id": recipientID,
		"amount":       amount,
	})
	return &GrantResult{Grant: grant, Balance: balance}, nil
}

// Library returns the user's licensed samples grouped by pack for the
// library listing. Samples whose pack was deleted group under the zero ID.
func (s *Service) Library(ctx context.Context, userID string) (map[string][]*models.Sample, error) {
	licenses, err := s.store.LicensesFor(ctx, userID)
	if err != nil {
		return nil, storeErr("listing licenses", err)
	}

	grouped := make(map[string][]*models.Sample)
	for _, license := range licenses {
		sample, err := s.store.GetSample(ctx, license.SampleID)
		if err != nil {
			return nil, storeErr("loading sample", err)
		}
		if sample == nil {
			// The catalog entry was deleted; the license stands but there
			// is nothing to list for it.
			continue
		}
		grouped[sample.PackID] = append(grouped[sample.PackID], sample)
	}
	return grouped, nil
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
