package db

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		home_node TEXT NOT NULL DEFAULT '',
		approved INTEGER NOT NULL DEFAULT 0,
		display_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_home_node ON accounts(home_node);
	`

	// At most one pending request per ordered pair
	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests (
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (sender_id, receiver_id)
	)`

	sqlCreateFollowRequestsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follow_requests_receiver ON follow_requests(receiver_id);
	`

	sqlCreateFollowingTable = `CREATE TABLE IF NOT EXISTS following (
		follower_id TEXT NOT NULL,
		followee_id TEXT NOT NULL,
		mutual INTEGER NOT NULL DEFAULT 0,
		followed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (follower_id, followee_id)
	)`

	sqlCreateFollowingIndices = `
		CREATE INDEX IF NOT EXISTS idx_following_followee ON following(followee_id);
	`

	sqlCreateRemoteFollowersTable = `CREATE TABLE IF NOT EXISTS remote_followers (
		local_user_id TEXT NOT NULL,
		remote_username TEXT NOT NULL,
		remote_node TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (local_user_id, remote_username, remote_node)
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'PUBLIC',
		published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		deleted_at TIMESTAMP,
		local_copy INTEGER NOT NULL DEFAULT 1,
		origin_node TEXT NOT NULL DEFAULT '',
		needs_sync INTEGER NOT NULL DEFAULT 0,
		media_name TEXT NOT NULL DEFAULT ''
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
		CREATE INDEX IF NOT EXISTS idx_posts_published_at ON posts(published_at DESC);
		CREATE INDEX IF NOT EXISTS idx_posts_needs_sync ON posts(needs_sync);
	`

	// remote_nodes_sent of a post, one row per node holding the current version
	sqlCreatePostDeliveriesTable = `CREATE TABLE IF NOT EXISTS post_deliveries (
		post_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		delivered_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (post_id, node_id)
	)`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		tables := []struct {
			name string
			sql  string
		}{
			{"accounts", sqlCreateAccountsTable},
			{"follow_requests", sqlCreateFollowRequestsTable},
			{"following", sqlCreateFollowingTable},
			{"remote_followers", sqlCreateRemoteFollowersTable},
			{"posts", sqlCreatePostsTable},
			{"post_deliveries", sqlCreatePostDeliveriesTable},
		}
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		for name, indices := range map[string]string{
			"accounts":        sqlCreateAccountsIndices,
			"follow_requests": sqlCreateFollowRequestsIndices,
			"following":       sqlCreateFollowingIndices,
			"posts":           sqlCreatePostsIndices,
		} {
			if _, err := tx.Exec(indices); err != nil {
				log.Warn().Err(err).Str("table", name).Msg("Failed to create indices")
			}
		}

		db.extendExistingTables(tx)
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Error().Err(err).Str("table", tableName).Msg("Error creating table")
		return err
	}
	log.Debug().Str("table", tableName).Msg("Table created or already exists")
	return nil
}

// extendExistingTables adds columns introduced after the first schema
// version. Errors mean the column is already there.
func (db *DB) extendExistingTables(tx *sql.Tx) {
	tx.Exec("ALTER TABLE accounts ADD COLUMN summary TEXT NOT NULL DEFAULT ''")
	tx.Exec("ALTER TABLE posts ADD COLUMN media_type TEXT NOT NULL DEFAULT ''")
	tx.Exec("ALTER TABLE posts ADD COLUMN version INTEGER NOT NULL DEFAULT 0")
}
