package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrOwnedElsewhere means the transaction id is stored under another connection.
	ErrOwnedElsewhere = errors.New("transaction belongs to another connection")
)

// PersonalFinanceCategory is the provider's two-level category guess.
type PersonalFinanceCategory struct {
	Primary         string `json:"primary"`
	Detailed        string `json:"detailed"`
	ConfidenceLevel string `json:"confidenceLevel,omitempty"`
}

// Location is where the transaction happened, when the provider knows.
type Location struct {
	Address    string   `json:"address,omitempty"`
	City       string   `json:"city,omitempty"`
	Region     string   `json:"region,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
}

// Transaction is a single money movement on an account.
// Amount is positive when money leaves the account and negative when it
// arrives, as reported by the provider.
type Transaction struct {
	ID                      string                   `json:"id"` // Provider's transaction id
	AccountID               string                   `json:"accountId"`
	ConnectionID            string                   `json:"connectionId"`
	Amount                  decimal.Decimal          `json:"amount"`
	IsoCurrencyCode         string                   `json:"isoCurrencyCode,omitempty"`
	UnofficialCurrencyCode  string                   `json:"unofficialCurrencyCode,omitempty"`
	Date                    time.Time                `json:"date"`
	AuthorizedDate          *time.Time               `json:"authorizedDate,omitempty"`
	Name                    string                   `json:"name"`
	MerchantName            string                   `json:"merchantName,omitempty"`
	Pending                 bool                     `json:"pending"`
	PaymentChannel          string                   `json:"paymentChannel,omitempty"`
	Category                []string                 `json:"category,omitempty"`
	CategoryID              string                   `json:"categoryId,omitempty"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personalFinanceCategory,omitempty"`
	Location                *Location                `json:"location,omitempty"`
	TransactionType         string                   `json:"transactionType,omitempty"`
	OriginalDescription     string                   `json:"originalDescription,omitempty"`
	MerchantEntityID        string                   `json:"merchantEntityId,omitempty"`
	LogoURL                 string                   `json:"logoUrl,omitempty"`
	Website                 string                   `json:"website,omitempty"`
	CreatedAt               time.Time                `json:"createdAt"`
	UpdatedAt               time.Time                `json:"updatedAt"`
}

// UpsertParams is used for syncing transactions from the provider. The
// stored row is replaced with exactly these values.
type UpsertParams struct {
	ID                      string // Provider's transaction id (used as PK)
	AccountID               string
	ConnectionID            string
	Amount                  decimal.Decimal
	IsoCurrencyCode         string
	UnofficialCurrencyCode  string
	Date                    time.Time
	AuthorizedDate          *time.Time
	Name                    string
	MerchantName            string
	Pending                 bool
	PaymentChannel          string
	Category                []string
	CategoryID              string
	PersonalFinanceCategory *PersonalFinanceCategory
	Location                *Location
	TransactionType         string
	OriginalDescription     string
	MerchantEntityID        string
	LogoURL                 string
	Website                 string
}

// Validate validates the upsert parameters
func (p UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("transaction ID is required for upsert")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required for upsert")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required for upsert")
	}
	if p.Date.IsZero() {
		return errors.New("transaction date is required")
	}
	return nil
}
