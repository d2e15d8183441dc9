package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
)

// Follow request queries
const (
	sqlInsertFollowRequest  = `INSERT INTO follow_requests(sender_id, receiver_id, created_at) VALUES (?, ?, ?)`
	sqlSelectFollowRequest  = `SELECT sender_id, receiver_id, created_at FROM follow_requests WHERE sender_id = ? AND receiver_id = ?`
	sqlDeleteFollowRequest  = `DELETE FROM follow_requests WHERE sender_id = ? AND receiver_id = ?`
	sqlSelectPendingForUser = `SELECT a.id, a.username, a.home_node, a.approved, a.display_name, a.summary, a.created_at, r.created_at
		FROM follow_requests r
		INNER JOIN accounts a ON a.id = r.sender_id
		WHERE r.receiver_id = ?
		ORDER BY r.created_at ASC`
)

// Following queries
const (
	sqlInsertEdge       = `INSERT INTO following(follower_id, followee_id, mutual, followed_at) VALUES (?, ?, ?, ?)`
	sqlSelectEdge       = `SELECT follower_id, followee_id, mutual, followed_at FROM following WHERE follower_id = ? AND followee_id = ?`
	sqlDeleteEdge       = `DELETE FROM following WHERE follower_id = ? AND followee_id = ?`
	sqlUpdateEdgeMutual = `UPDATE following SET mutual = ? WHERE follower_id = ? AND followee_id = ?`
	sqlSelectFollowers  = `SELECT a.id, a.username, a.home_node, a.approved, a.display_name, a.summary, a.created_at
		FROM following f INNER JOIN accounts a ON a.id = f.follower_id
		WHERE f.followee_id = ? ORDER BY f.followed_at ASC`
	sqlSelectFollowees = `SELECT a.id, a.username, a.home_node, a.approved, a.display_name, a.summary, a.created_at
		FROM following f INNER JOIN accounts a ON a.id = f.followee_id
		WHERE f.follower_id = ? ORDER BY f.followed_at ASC`
	sqlSelectFriends = `SELECT a.id, a.username, a.home_node, a.approved, a.display_name, a.summary, a.created_at
		FROM following f INNER JOIN accounts a ON a.id = f.followee_id
		WHERE f.follower_id = ? AND f.mutual = 1 ORDER BY f.followed_at ASC`
)

// Remote follower queries
const (
	sqlInsertRemoteFollower  = `INSERT OR IGNORE INTO remote_followers(local_user_id, remote_username, remote_node, created_at) VALUES (?, ?, ?, ?)`
	sqlDeleteRemoteFollower  = `DELETE FROM remote_followers WHERE local_user_id = ? AND remote_username = ? AND remote_node = ?`
	sqlSelectRemoteFollowers = `SELECT local_user_id, remote_username, remote_node, created_at FROM remote_followers WHERE local_user_id = ? ORDER BY remote_node ASC, remote_username ASC`
)

// CreateFollowRequest stores a pending request. A request that already exists
// for the pair yields domain.ErrDuplicate.
func (db *DB) CreateFollowRequest(ctx context.Context, req *domain.FollowRequest) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollowRequest, req.SenderId.String(), req.ReceiverId.String(), req.CreatedAt)
		return err
	})
}

// FindPendingRequest returns nil when no request is pending for the pair.
func (db *DB) FindPendingRequest(ctx context.Context, sender, receiver uuid.UUID) (*domain.FollowRequest, error) {
	var req domain.FollowRequest
	err := db.db.QueryRowContext(ctx, sqlSelectFollowRequest, sender.String(), receiver.String()).
		Scan(&req.SenderId, &req.ReceiverId, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// DeletePendingRequest removes the pair's request and reports whether there
// was one.
func (db *DB) DeletePendingRequest(ctx context.Context, sender, receiver uuid.UUID) (bool, error) {
	deleted := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollowRequest, sender.String(), receiver.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

func (db *DB) ReadPendingRequests(ctx context.Context, receiver uuid.UUID) ([]domain.PendingRequest, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPendingForUser, receiver.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.PendingRequest
	for rows.Next() {
		var p domain.PendingRequest
		acc := &p.Sender
		if err := rows.Scan(&acc.Id, &acc.Username, &acc.HomeNode, &acc.Approved, &acc.DisplayName, &acc.Summary, &acc.CreatedAt, &p.CreatedAt); err != nil {
			return pending, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// FindEdge returns nil when follower does not follow followee.
func (db *DB) FindEdge(ctx context.Context, follower, followee uuid.UUID) (*domain.FollowingEdge, error) {
	return findEdge(ctx, db.db, follower, followee)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func findEdge(ctx context.Context, q querier, follower, followee uuid.UUID) (*domain.FollowingEdge, error) {
	var edge domain.FollowingEdge
	err := q.QueryRowContext(ctx, sqlSelectEdge, follower.String(), followee.String()).
		Scan(&edge.FollowerId, &edge.FolloweeId, &edge.Mutual, &edge.FollowedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// AcceptFollowRequest turns the pending sender -> receiver request into a
// following edge in one transaction. remote, when set, is recorded alongside
// so the sender's node receives the receiver's posts.
func (db *DB) AcceptFollowRequest(ctx context.Context, sender, receiver uuid.UUID, remote *domain.RemoteFollowerRecord) (*domain.FollowingEdge, error) {
	var edge *domain.FollowingEdge
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteFollowRequest, sender.String(), receiver.String())
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		edge, err = insertEdge(ctx, tx, sender, receiver)
		if err != nil {
			return err
		}
		if remote != nil {
			return insertRemoteFollower(tx, remote)
		}
		return nil
	})
	return edge, err
}

// CreateEdge records an accepted follow without a pending request, clearing
// any request still pending for the pair.
func (db *DB) CreateEdge(ctx context.Context, follower, followee uuid.UUID) (*domain.FollowingEdge, error) {
	var edge *domain.FollowingEdge
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlDeleteFollowRequest, follower.String(), followee.String()); err != nil {
			return err
		}
		var err error
		edge, err = insertEdge(ctx, tx, follower, followee)
		return err
	})
	return edge, err
}

// insertEdge creates follower -> followee and flips both edges to mutual when
// the reverse edge exists.
func insertEdge(ctx context.Context, tx *sql.Tx, follower, followee uuid.UUID) (*domain.FollowingEdge, error) {
	reverse, err := findEdge(ctx, tx, followee, follower)
	if err != nil {
		return nil, err
	}
	edge := &domain.FollowingEdge{
		FollowerId: follower,
		FolloweeId: followee,
		Mutual:     reverse != nil,
		FollowedAt: time.Now(),
	}
	if _, err := tx.Exec(sqlInsertEdge, follower.String(), followee.String(), edge.Mutual, edge.FollowedAt); err != nil {
		return nil, err
	}
	if reverse != nil {
		if _, err := tx.Exec(sqlUpdateEdgeMutual, true, followee.String(), follower.String()); err != nil {
			return nil, err
		}
	}
	return edge, nil
}

// DeleteEdge removes follower -> followee and resets the mutual flag of the
// reverse edge. remote, when set, is removed in the same transaction.
func (db *DB) DeleteEdge(ctx context.Context, follower, followee uuid.UUID, remote *domain.RemoteFollowerRecord) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlDeleteEdge, follower.String(), followee.String())
		if err != nil {
			return err
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.Exec(sqlUpdateEdgeMutual, false, followee.String(), follower.String()); err != nil {
			return err
		}
		if remote != nil {
			_, err = tx.Exec(sqlDeleteRemoteFollower, remote.LocalUserId.String(), remote.RemoteUsername, remote.RemoteNode)
		}
		return err
	})
}

func (db *DB) ReadFollowers(ctx context.Context, id uuid.UUID) ([]domain.Account, error) {
	return db.queryAccounts(ctx, sqlSelectFollowers, id.String())
}

func (db *DB) ReadFollowees(ctx context.Context, id uuid.UUID) ([]domain.Account, error) {
	return db.queryAccounts(ctx, sqlSelectFollowees, id.String())
}

func (db *DB) ReadFriends(ctx context.Context, id uuid.UUID) ([]domain.Account, error) {
	return db.queryAccounts(ctx, sqlSelectFriends, id.String())
}

// insertRemoteFollower is idempotent on (local user, remote username, node).
func insertRemoteFollower(tx *sql.Tx, rec *domain.RemoteFollowerRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := tx.Exec(sqlInsertRemoteFollower, rec.LocalUserId.String(), rec.RemoteUsername, rec.RemoteNode, rec.CreatedAt)
	return err
}

func (db *DB) ReadRemoteFollowers(ctx context.Context, localUser uuid.UUID) ([]domain.RemoteFollowerRecord, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRemoteFollowers, localUser.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.RemoteFollowerRecord
	for rows.Next() {
		var rec domain.RemoteFollowerRecord
		if err := rows.Scan(&rec.LocalUserId, &rec.RemoteUsername, &rec.RemoteNode, &rec.CreatedAt); err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
