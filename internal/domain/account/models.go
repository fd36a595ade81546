package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// TypeOther is stored when the provider reports a type outside accountTypes.
const TypeOther = "other"

var (
	// Account types reported by the provider
	accountTypes = map[string]struct{}{
		"depository": {},
		"credit":     {},
		"loan":       {},
		"investment": {},
		"brokerage":  {},
		"other":      {},
	}
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
	// ErrOwnedElsewhere means the account id is stored under another connection.
	ErrOwnedElsewhere = errors.New("account belongs to another connection")
)

// Balances is the balance snapshot last reported for an account. It is
// replaced wholesale on every refresh.
type Balances struct {
	Available              decimal.NullDecimal `json:"available"`
	Current                decimal.NullDecimal `json:"current"`
	Limit                  decimal.NullDecimal `json:"limit"`
	IsoCurrencyCode        string              `json:"isoCurrencyCode,omitempty"`
	UnofficialCurrencyCode string              `json:"unofficialCurrencyCode,omitempty"`
}

// Account represents a financial account domain entity
type Account struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connectionId"`
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	OfficialName string     `json:"officialName,omitempty"`
	Type         string     `json:"type"`
	Subtype      string     `json:"subtype,omitempty"`
	Mask         string     `json:"mask,omitempty"`
	Balances     Balances   `json:"balances"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// UpsertParams contains parameters for upserting an account. Every field is
// written; nothing from the stored row is merged in.
type UpsertParams struct {
	ID           string
	ConnectionID string
	UserID       string
	Name         string
	OfficialName string
	Type         string
	Subtype      string
	Mask         string
	Balances     Balances
	SyncedAt     time.Time
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("account ID is required for upsert")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required for upsert")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidAccountType(p.Type) {
		return errors.New("account type is invalid")
	}
	return nil
}

// IsValidAccountType checks if the provided account type is valid.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// NormalizeType maps unknown provider types to TypeOther.
func NormalizeType(t string) string {
	if IsValidAccountType(t) {
		return t
	}
	return TypeOther
}
