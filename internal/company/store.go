package company

import "context"

// Directory resolves company identity.
type Directory interface {
	// FindByStockCode pads the code to six characters before lookup.
	// Returns nil, nil when the company is unknown.
	FindByStockCode(ctx context.Context, code string) (*Company, error)
	// FindByID returns nil, nil when the company is unknown.
	FindByID(ctx context.Context, id int64) (*Company, error)
	// FindByIDs returns the known subset of ids.
	FindByIDs(ctx context.Context, ids []int64) ([]Company, error)
}

// WatchlistDirectory lists the companies a user follows.
type WatchlistDirectory interface {
	ListActiveWatchlistCompanies(ctx context.Context, userID int64) ([]int64, error)
}
