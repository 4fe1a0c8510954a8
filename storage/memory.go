package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wavecrate.app/server/ledger"
	"wavecrate.app/server/models"
)

// MemoryStorage keeps everything in maps behind one mutex, which serializes
// the composite operations the same way the SQLite transactions do. It is
// used by tests; the failure hooks let them force a mid-unit error and
// verify nothing was applied.
type MemoryStorage struct {
	mu sync.Mutex

	Users    map[string]models.User
	Samples  map[string]models.Sample
	Packs    map[string]models.Pack
	Licenses map[string]map[string]models.License // userID -> sampleID -> license
	Grants   []models.CreditGrant
	Sessions map[string]models.Session

	// FailLicenseWrites, when set, makes ApplyPurchase fail after the
	// funds check as if the license insert had errored. The purchase must
	// then leave balances and licenses untouched.
	FailLicenseWrites error
	// FailGrantWrites does the same for the audit insert in ApplyGrant.
	FailGrantWrites error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Users:    make(map[string]models.User),
		Samples:  make(map[string]models.Sample),
		Packs:    make(map[string]models.Pack),
		Licenses: make(map[string]map[string]models.License),
		Sessions: make(map[string]models.Session),
	}
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.Users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryStorage) FindUserByName(ctx context.Context, name string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.Users {
		if user.Name == name {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[user.ID] = *user
	return nil
}

func (m *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]*models.User, 0, len(m.Users))
	for _, user := range m.Users {
		u := user
		users = append(users, &u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}

func (m *MemoryStorage) GetSample(ctx context.Context, id string) (*models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample, ok := m.Samples[id]
	if !ok {
		return nil, nil
	}
	return &sample, nil
}

func (m *MemoryStorage) SaveSample(ctx context.Context, sample *models.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Samples[sample.ID] = *sample
	return nil
}

func (m *MemoryStorage) GetPack(ctx context.Context, id string) (*models.Pack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pack, ok := m.Packs[id]
	if !ok {
		return nil, nil
	}
	p := pack
	for _, sample := range m.Samples {
		if sample.PackID == id {
			p.SampleCount++
			p.TotalCredits += sample.Credits
		}
	}
	return &p, nil
}

func (m *MemoryStorage) SavePack(ctx context.Context, pack *models.Pack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Packs[pack.ID] = *pack
	return nil
}

func (m *MemoryStorage) ListPacks(ctx context.Context) ([]*models.Pack, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.Packs))
	for id := range m.Packs {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	packs := make([]*models.Pack, 0, len(ids))
	for _, id := range ids {
		pack, err := m.GetPack(ctx, id)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (m *MemoryStorage) SamplesInPack(ctx context.Context, packID string) ([]*models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var samples []*models.Sample
	for _, sample := range m.Samples {
		if sample.PackID == packID {
			s := sample
			samples = append(samples, &s)
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].ID < samples[j].ID })
	return samples, nil
}

func (m *MemoryStorage) HasLicense(ctx context.Context, userID, sampleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Licenses[userID][sampleID]
	return ok, nil
}

func (m *MemoryStorage) LicensesFor(ctx context.Context, userID string) ([]*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var licenses []*models.License
	for _, license := range m.Licenses[userID] {
		l := license
		licenses = append(licenses, &l)
	}
	sort.Slice(licenses, func(i, j int) bool { return licenses[i].SampleID < licenses[j].SampleID })
	return licenses, nil
}

func (m *MemoryStorage) ApplyPurchase(ctx context.Context, userID string, candidates []models.PurchaseLine) (*models.PurchaseReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.Users[userID]
	if !ok {
		return nil, ledger.ErrInsufficientFunds
	}

	receipt := &models.PurchaseReceipt{}
	var toCharge []models.PurchaseLine
	for _, line := range candidates {
		if _, owned := m.Licenses[userID][line.SampleID]; !owned {
			toCharge = append(toCharge, line)
			receipt.Charged += line.Credits
		}
	}

	if len(toCharge) == 0 {
		receipt.Balance = user.Credits
		return receipt, nil
	}

	if user.Credits < receipt.Charged {
		return nil, ledger.ErrInsufficientFunds
	}

	// Everything below is the atomic unit: no state is touched until all
	// checks (including the injected failure) have passed.
	if m.FailLicenseWrites != nil {
		return nil, m.FailLicenseWrites
	}

	user.Credits -= receipt.Charged
	user.UpdatedAt = time.Now().UTC()
	m.Users[userID] = user

	if m.Licenses[userID] == nil {
		m.Licenses[userID] = make(map[string]models.License)
	}
	now := time.Now().UTC()
	for _, line := range toCharge {
		m.Licenses[userID][line.SampleID] = models.License{
			ID:           uuid.NewString(),
			UserID:       userID,
			SampleID:     line.SampleID,
			CreditsSpent: line.Credits,
			CreatedAt:    now,
		}
		receipt.NewSampleIDs = append(receipt.NewSampleIDs, line.SampleID)
	}
	receipt.Balance = user.Credits
	return receipt, nil
}

func (m *MemoryStorage) ApplyGrant(ctx context.Context, grant *models.CreditGrant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recipient, ok := m.Users[grant.RecipientID]
	if !ok {
		return 0, ledger.ErrUnknownRecipient
	}

	if m.FailGrantWrites != nil {
		return 0, m.FailGrantWrites
	}

	recipient.Credits += grant.Amount
	recipient.UpdatedAt = time.Now().UTC()
	m.Users[grant.RecipientID] = recipient
	m.Grants = append(m.Grants, *grant)
	return recipient.Credits, nil
}

func (m *MemoryStorage) RecentGrants(ctx context.Context, limit int) ([]*models.CreditGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var grants []*models.CreditGrant
	for i := len(m.Grants) - 1; i >= 0 && len(grants) < limit; i-- {
		g := m.Grants[i]
		grants = append(grants, &g)
	}
	return grants, nil
}

func (m *MemoryStorage) SaveSession(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[session.Token] = *session
	return nil
}

func (m *MemoryStorage) GetSession(ctx context.Context, token string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.Sessions[token]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (m *MemoryStorage) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, token)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
