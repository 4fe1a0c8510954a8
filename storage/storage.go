// Package storage provides the durable store behind the ledger: user
// balances, the sample/pack catalog, license records, the grant audit
// trail, and sessions. Two implementations exist, SQLite for production
// and an in-memory store for tests.
package storage

import (
	"context"

	"wavecrate.app/server/models"
)

type Storage interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByName(ctx context.Context, name string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)

	GetSample(ctx context.Context, id string) (*models.Sample, error)
	SaveSample(ctx context.Context, sample *models.Sample) error
	GetPack(ctx context.Context, id string) (*models.Pack, error)
	SavePack(ctx context.Context, pack *models.Pack) error
	ListPacks(ctx context.Context) ([]*models.Pack, error)
	SamplesInPack(ctx context.Context, packID string) ([]*models.Sample, error)

	HasLicense(ctx context.Context, userID, sampleID string) (bool, error)
	LicensesFor(ctx context.Context, userID string) ([]*models.License, error)

	// ApplyPurchase runs the purchase's atomic unit: re-partition the
	// candidate lines against existing licenses, debit the summed cost of
	// the unowned remainder, and insert one license row per charged line.
	// Either every mutation commits or none does. A balance below the cost
	// fails with ledger.ErrInsufficientFunds and changes nothing.
	ApplyPurchase(ctx context.Context, userID string, candidates []models.PurchaseLine) (*models.PurchaseReceipt, error)

	// ApplyGrant credits the recipient and appends the audit record in one
	// atomic unit. A missing recipient fails with ledger.ErrUnknownRecipient.
	ApplyGrant(ctx context.Context, grant *models.CreditGrant) (int64, error)

	RecentGrants(ctx context.Context, limit int) ([]*models.CreditGrant, error)

	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error

	Close() error
}
