package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
)

const (
	accountColumns = `id, username, home_node, approved, display_name, summary, created_at`

	sqlInsertAccount         = `INSERT INTO accounts(id, username, home_node, approved, display_name, summary, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectAccByUsername   = `SELECT ` + accountColumns + ` FROM accounts WHERE username = ?`
	sqlSelectAccById         = `SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`
	sqlUpdateAccApproved     = `UPDATE accounts SET approved = ? WHERE username = ?`
	sqlUpdateAccProfile      = `UPDATE accounts SET display_name = ?, summary = ? WHERE id = ?`
	sqlSelectNativeAccounts  = `SELECT ` + accountColumns + ` FROM accounts WHERE approved = 1 AND (home_node = '' OR home_node = ?) ORDER BY created_at ASC, username ASC`
)

func scanAccount(row scanner) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.Id, &acc.Username, &acc.HomeNode, &acc.Approved, &acc.DisplayName, &acc.Summary, &acc.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &acc, nil
}

// CreateAccount inserts acc, assigning an id and creation time when unset.
// A taken username yields domain.ErrDuplicate.
func (db *DB) CreateAccount(ctx context.Context, acc *domain.Account) error {
	if acc.Id == uuid.Nil {
		acc.Id = uuid.New()
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id.String(),
			acc.Username,
			acc.HomeNode,
			acc.Approved,
			acc.DisplayName,
			acc.Summary,
			acc.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccByUsername, username))
}

func (db *DB) ReadAccById(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx, sqlSelectAccById, id.String()))
}

func (db *DB) SetApproved(ctx context.Context, username string, approved bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateAccApproved, approved, username)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func (db *DB) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, summary string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateAccProfile, displayName, summary, id.String())
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// ReadNativeAccounts lists the approved accounts whose home is this node,
// in directory order.
func (db *DB) ReadNativeAccounts(ctx context.Context, selfNode string) ([]domain.Account, error) {
	return db.queryAccounts(ctx, sqlSelectNativeAccounts, selfNode)
}

func (db *DB) queryAccounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return accounts, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
