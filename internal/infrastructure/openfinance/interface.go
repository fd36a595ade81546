package openfinance

import (
	"context"
)

// ClientInterface defines the methods required from the provider API client
type ClientInterface interface {
	FetchAccounts(ctx context.Context, credential string) ([]Account, error)
	FetchDeltaPage(ctx context.Context, credential, cursor string) (*DeltaPage, error)
}
