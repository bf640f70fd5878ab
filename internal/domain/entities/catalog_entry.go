package entities

import "time"

// CatalogEntry is the persisted last-known price for a billable fee code.
// Entries are created lazily the first time a code is priced and refreshed
// by the catalog synchronizer. Amount stays nil until a resolution succeeds.
type CatalogEntry struct {
	Code         string     `json:"code" db:"code"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	Amount       *int64     `json:"amount,omitempty" db:"amount"`
	Version      int64      `json:"version" db:"version"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// HasAmount reports whether the entry carries a usable stored price.
func (e *CatalogEntry) HasAmount() bool {
	return e.Amount != nil && *e.Amount > 0
}

// StoredAmount returns the stored price, or zero when the entry has
// never been priced.
func (e *CatalogEntry) StoredAmount() int64 {
	if e.Amount == nil || *e.Amount < 0 {
		return 0
	}
	return *e.Amount
}
