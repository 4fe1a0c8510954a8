package models

// PurchaseLine is one sample a purchase may have to charge for, priced at
// the sample's own cost rather than a share of a pack total.
type PurchaseLine struct {
	SampleID string
	Credits  int64
}

// PurchaseReceipt reports what an atomic purchase actually did. NewSampleIDs
// lists only the samples licensed by this call; candidates that turned out to
// be owned already (including by a concurrent purchase) are absent and were
// not charged for.
type PurchaseReceipt struct {
	Charged      int64
	Balance      int64
	NewSampleIDs []string
}
