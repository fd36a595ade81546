package openfinance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// AccountsResponse represents the API response for account data
type AccountsResponse struct {
	Accounts  []Account `json:"accounts"`
	RequestID string    `json:"request_id"`
}

// Balances is the balance block attached to every account
type Balances struct {
	Available              decimal.NullDecimal `json:"available"`
	Current                decimal.NullDecimal `json:"current"`
	Limit                  decimal.NullDecimal `json:"limit"`
	IsoCurrencyCode        *string             `json:"iso_currency_code"`
	UnofficialCurrencyCode *string             `json:"unofficial_currency_code"`
}

// Account represents an account from the provider API
type Account struct {
	AccountID    string   `json:"account_id"`
	Name         string   `json:"name"`
	OfficialName *string  `json:"official_name"`
	Type         string   `json:"type"`
	Subtype      *string  `json:"subtype"`
	Mask         *string  `json:"mask"`
	Balances     Balances `json:"balances"`
}

// TransactionsSyncResponse represents one page of the delta stream
type TransactionsSyncResponse struct {
	Added      []Transaction        `json:"added"`
	Modified   []Transaction        `json:"modified"`
	Removed    []RemovedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
	RequestID  string               `json:"request_id"`
}

// RemovedTransaction identifies a transaction the provider no longer reports
type RemovedTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
}

// PersonalFinanceCategory is the provider's category classification
type PersonalFinanceCategory struct {
	Primary         string `json:"primary"`
	Detailed        string `json:"detailed"`
	ConfidenceLevel string `json:"confidence_level"`
}

// Location is the merchant location block
type Location struct {
	Address    *string  `json:"address"`
	City       *string  `json:"city"`
	Region     *string  `json:"region"`
	PostalCode *string  `json:"postal_code"`
	Country    *string  `json:"country"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
}

// IsEmpty reports whether every field of the location is unset
func (l *Location) IsEmpty() bool {
	return l == nil || (l.Address == nil && l.City == nil && l.Region == nil &&
		l.PostalCode == nil && l.Country == nil && l.Lat == nil && l.Lon == nil)
}

// Transaction represents a transaction from the provider API
type Transaction struct {
	TransactionID           string                   `json:"transaction_id"`
	AccountID               string                   `json:"account_id"`
	Amount                  decimal.Decimal          `json:"amount"`
	IsoCurrencyCode         *string                  `json:"iso_currency_code"`
	UnofficialCurrencyCode  *string                  `json:"unofficial_currency_code"`
	Category                []string                 `json:"category"`
	CategoryID              *string                  `json:"category_id"`
	DateString              string                   `json:"date"`            // "2024-03-01"
	AuthorizedDateString    *string                  `json:"authorized_date"` // may be null
	Name                    string                   `json:"name"`
	MerchantName            *string                  `json:"merchant_name"`
	Pending                 bool                     `json:"pending"`
	PaymentChannel          string                   `json:"payment_channel"`
	PersonalFinanceCategory *PersonalFinanceCategory `json:"personal_finance_category"`
	Location                *Location                `json:"location"`
	TransactionType         *string                  `json:"transaction_type"`
	OriginalDescription     *string                  `json:"original_description"`
	MerchantEntityID        *string                  `json:"merchant_entity_id"`
	LogoURL                 *string                  `json:"logo_url"`
	Website                 *string                  `json:"website"`
}

// GetDate parses and returns the posting date
func (t *Transaction) GetDate() (time.Time, error) {
	parsed, err := time.Parse(dateLayout, t.DateString)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date '%s': %w", t.DateString, err)
	}
	return parsed, nil
}

// GetAuthorizedDate parses and returns the authorization date, if any
func (t *Transaction) GetAuthorizedDate() (*time.Time, error) {
	if t.AuthorizedDateString == nil || *t.AuthorizedDateString == "" {
		return nil, nil
	}
	parsed, err := time.Parse(dateLayout, *t.AuthorizedDateString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorized_date '%s': %w", *t.AuthorizedDateString, err)
	}
	return &parsed, nil
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	ErrorType      string `json:"error_type"`
	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	DisplayMessage string `json:"display_message"`
	RequestID      string `json:"request_id"`
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
