package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/google/uuid"
)

const (
	postColumns = `posts.id, posts.author_id, accounts.username, posts.title, posts.content, posts.visibility,
		posts.published_at, posts.updated_at, posts.deleted_at, posts.local_copy, posts.origin_node,
		posts.needs_sync, posts.media_name, posts.media_type, posts.version, accounts.display_name`

	sqlInsertPost = `INSERT INTO posts(id, author_id, title, content, visibility, published_at, updated_at, deleted_at,
		local_copy, origin_node, needs_sync, media_name, media_type) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdatePost = `UPDATE posts SET author_id = ?, title = ?, content = ?, visibility = ?, published_at = ?, updated_at = ?,
		deleted_at = ?, local_copy = ?, origin_node = ?, needs_sync = ?, media_name = ?, media_type = ?, version = version + 1
		WHERE id = ? RETURNING version`
	sqlSoftDeletePost = `UPDATE posts SET visibility = 'DELETED', deleted_at = ?, updated_at = ?, needs_sync = ?, version = version + 1
		WHERE id = ? RETURNING version`
	sqlSelectPostById = `SELECT ` + postColumns + ` FROM posts
		INNER JOIN accounts ON accounts.id = posts.author_id
		WHERE posts.id = ?`
	sqlClearNeedsSync = `UPDATE posts SET needs_sync = 0 WHERE id = ? AND version = ?`
	sqlPostExists     = `SELECT 1 FROM posts WHERE id = ?`

	sqlInsertDelivery   = `INSERT OR IGNORE INTO post_deliveries(post_id, node_id, delivered_at) VALUES (?, ?, ?)`
	sqlDeleteDeliveries = `DELETE FROM post_deliveries WHERE post_id = ?`
	sqlSelectDeliveries = `SELECT node_id FROM post_deliveries WHERE post_id = ? ORDER BY node_id ASC`

	// Local posts with a pending content change, or whose author has remote
	// followers on a node that does not hold the current version yet.
	sqlSelectPostsNeedingSync = `SELECT posts.id FROM posts
		WHERE posts.local_copy = 1 AND (
			posts.needs_sync = 1 OR (
				posts.visibility NOT IN ('PRIVATE', 'DRAFT') AND EXISTS (
					SELECT 1 FROM remote_followers rf
					WHERE rf.local_user_id = posts.author_id AND NOT EXISTS (
						SELECT 1 FROM post_deliveries d WHERE d.post_id = posts.id AND d.node_id = rf.remote_node
					)
				)
			)
		)
		ORDER BY posts.updated_at ASC LIMIT ?`
)

func scanPost(row scanner) (*domain.Post, error) {
	var p domain.Post
	var deletedAt sql.NullTime
	err := row.Scan(&p.Id, &p.AuthorId, &p.Author, &p.Title, &p.Content, &p.Visibility,
		&p.PublishedAt, &p.UpdatedAt, &deletedAt, &p.LocalCopy, &p.OriginNode,
		&p.NeedsSync, &p.MediaName, &p.MediaType, &p.Version, &p.AuthorName)
	if err != nil {
		return nil, notFound(err)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		p.DeletedAt = &t
	}
	return &p, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// CreatePost inserts post. A post id that is already stored yields
// domain.ErrDuplicate.
func (db *DB) CreatePost(ctx context.Context, post *domain.Post) error {
	now := time.Now()
	if post.Id == uuid.Nil {
		post.Id = uuid.New()
	}
	if post.PublishedAt.IsZero() {
		post.PublishedAt = now
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertPost,
			post.Id.String(),
			post.AuthorId.String(),
			post.Title,
			post.Content,
			string(post.Visibility),
			post.PublishedAt,
			post.UpdatedAt,
			nullTime(post.DeletedAt),
			post.LocalCopy,
			post.OriginNode,
			post.NeedsSync,
			post.MediaName,
			post.MediaType,
		)
		return err
	})
}

// UpdatePost overwrites the mutable fields of post and bumps its version.
// Setting NeedsSync marks a new content version, so the delivery bookkeeping
// is cleared with it.
func (db *DB) UpdatePost(ctx context.Context, post *domain.Post) error {
	var version int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRow(sqlUpdatePost,
			post.AuthorId.String(),
			post.Title,
			post.Content,
			string(post.Visibility),
			post.PublishedAt,
			post.UpdatedAt,
			nullTime(post.DeletedAt),
			post.LocalCopy,
			post.OriginNode,
			post.NeedsSync,
			post.MediaName,
			post.MediaType,
			post.Id.String(),
		).Scan(&version)
		if err != nil {
			return notFound(err)
		}
		if post.NeedsSync {
			_, err = tx.Exec(sqlDeleteDeliveries, post.Id.String())
		}
		return err
	})
	if err != nil {
		return err
	}
	post.Version = version
	if post.NeedsSync {
		post.RemoteNodesSent = nil
	}
	return nil
}

// SoftDeletePost marks the post deleted and drops its delivery bookkeeping.
// needsSync is false for posts that never left the node.
func (db *DB) SoftDeletePost(ctx context.Context, id uuid.UUID, needsSync bool) error {
	now := time.Now()
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var version int64
		if err := tx.QueryRow(sqlSoftDeletePost, now, now, needsSync, id.String()).Scan(&version); err != nil {
			return notFound(err)
		}
		_, err := tx.Exec(sqlDeleteDeliveries, id.String())
		return err
	})
}

func (db *DB) ReadPostById(ctx context.Context, id uuid.UUID) (*domain.Post, error) {
	post, err := scanPost(db.db.QueryRowContext(ctx, sqlSelectPostById, id.String()))
	if err != nil {
		return nil, err
	}
	post.RemoteNodesSent, err = db.readDeliveries(ctx, id)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (db *DB) readDeliveries(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectDeliveries, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []string
	for rows.Next() {
		var node string
		if err := rows.Scan(&node); err != nil {
			return nodes, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// ReadPosts lists posts newest first. Delivery bookkeeping is not loaded.
func (db *DB) ReadPosts(ctx context.Context, filter domain.PostFilter) ([]domain.Post, error) {
	var (
		where []string
		args  []any
	)
	if filter.AuthorId != uuid.Nil {
		where = append(where, "posts.author_id = ?")
		args = append(args, filter.AuthorId.String())
	}
	if len(filter.Visibilities) > 0 {
		marks := make([]string, len(filter.Visibilities))
		for i, v := range filter.Visibilities {
			marks[i] = "?"
			args = append(args, string(v))
		}
		where = append(where, "posts.visibility IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.IncludeDeleted {
		where = append(where, "posts.deleted_at IS NULL AND posts.visibility != 'DELETED'")
	}

	query := `SELECT ` + postColumns + ` FROM posts INNER JOIN accounts ON accounts.id = posts.author_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY posts.published_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return posts, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// RecordSync stores the outcome of a synchronization pass over version of
// the post: delivered nodes are added to the bookkeeping (replacing it when
// reset is set) and needs_sync is cleared. When the post changed since that
// version was read nothing is written and false is returned; the newer
// version still carries needs_sync.
func (db *DB) RecordSync(ctx context.Context, id uuid.UUID, version int64, delivered []string, reset bool) (bool, error) {
	now := time.Now()
	applied := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		applied = false
		res, err := tx.Exec(sqlClearNeedsSync, id.String(), version)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var one int
			return notFound(tx.QueryRow(sqlPostExists, id.String()).Scan(&one))
		}
		if reset {
			if _, err := tx.Exec(sqlDeleteDeliveries, id.String()); err != nil {
				return err
			}
		}
		for _, node := range delivered {
			if _, err := tx.Exec(sqlInsertDelivery, id.String(), node, now); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// ReadPostsNeedingSync returns ids of local posts a resync sweep should visit.
func (db *DB) ReadPostsNeedingSync(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPostsNeedingSync, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
