package company

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finrisk/internal/db"
)

const companyColumns = `id, stock_code, name, COALESCE(industry, '')`

// PostgresStore implements Directory and WatchlistDirectory using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindByStockCode fetches a company by its (padded) stock code.
func (s *PostgresStore) FindByStockCode(ctx context.Context, code string) (*Company, error) {
	code = NormalizeStockCode(code)
	if code == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+companyColumns+` FROM companies WHERE stock_code = $1`, code)
}

// FindByID fetches a company by ID.
func (s *PostgresStore) FindByID(ctx context.Context, id int64) (*Company, error) {
	return s.queryOne(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
}

// FindByIDs fetches all known companies among ids, ordered by id.
func (s *PostgresStore) FindByIDs(ctx context.Context, ids []int64) ([]Company, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "company: find by ids")
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.StockCode, &c.Name, &c.Industry); err != nil {
			return nil, eris.Wrap(err, "company: scan")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListActiveWatchlistCompanies returns the company ids on a user's active watchlist.
func (s *PostgresStore) ListActiveWatchlistCompanies(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT company_id FROM watchlists
		WHERE user_id = $1 AND active
		ORDER BY company_id`, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "company: list watchlist for user %d", userID)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "company: scan watchlist row")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, arg any) (*Company, error) {
	var c Company
	err := s.pool.QueryRow(ctx, sql, arg).Scan(&c.ID, &c.StockCode, &c.Name, &c.Industry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "company: get %v", arg)
	}
	return &c, nil
}
