// Package sqlite implements the store driver over modernc.org/sqlite.
// Intended for development and single-user deployments; postgres is
// the production driver.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/insightgrid/insightgrid/internal/profile"
	"github.com/insightgrid/insightgrid/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the sqlite database named by the profile DSN with WAL
// journaling and a busy timeout, the settings that behave best for a
// single-writer web service.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	return &DB{db: sqliteDB, profile: profile}, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_user_id ON conversation (user_id);

CREATE TABLE IF NOT EXISTS message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	conversation_uid TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_message_conversation_uid ON message (conversation_uid);

CREATE TABLE IF NOT EXISTS user_profile (
	user_id TEXT NOT NULL,
	field_key TEXT NOT NULL,
	field_value TEXT NOT NULL,
	PRIMARY KEY (user_id, field_key)
);
`

// Migrate applies the schema. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	stmt := `
		INSERT INTO conversation (uid, user_id, title, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.UserID, create.Title, create.CreatedTs, create.UpdatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "insert conversation")
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.UID; v != nil {
		where, args = append(where, "uid = ?"), append(args, *v)
	}
	if v := find.UserID; v != nil {
		where, args = append(where, "user_id = ?"), append(args, *v)
	}

	query := `
		SELECT id, uid, user_id, title, created_ts, updated_ts
		FROM conversation
		WHERE ` + joinAnd(where) + `
		ORDER BY updated_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		c := &store.Conversation{}
		if err := rows.Scan(&c.ID, &c.UID, &c.UserID, &c.Title, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "scan conversation")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `
		INSERT INTO message (uid, conversation_uid, role, content, run_id, metadata, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.UID, create.ConversationUID, create.Role, create.Content,
		create.RunID, create.MetadataJSON, create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessages) ([]*store.Message, error) {
	query := `
		SELECT id, uid, conversation_uid, role, content, run_id, metadata, created_ts
		FROM message
		WHERE conversation_uid = ?
		ORDER BY created_ts DESC, id DESC
	`
	args := []any{find.ConversationUID}
	if find.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.UID, &m.ConversationUID, &m.Role, &m.Content, &m.RunID, &m.MetadataJSON, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Fetched newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (d *DB) UpsertUserProfileField(ctx context.Context, userID, key, value string) error {
	stmt := `
		INSERT INTO user_profile (user_id, field_key, field_value)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, field_key) DO UPDATE SET field_value = EXCLUDED.field_value
	`
	_, err := d.db.ExecContext(ctx, stmt, userID, key, value)
	return errors.Wrap(err, "upsert profile field")
}

func (d *DB) GetUserProfile(ctx context.Context, userID string) (*store.UserProfile, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT field_key, field_value FROM user_profile WHERE user_id = ?`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query profile")
	}
	defer rows.Close()

	p := &store.UserProfile{UserID: userID, Fields: map[string]string{}}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errors.Wrap(err, "scan profile field")
		}
		p.Fields[k] = v
	}
	return p, rows.Err()
}

func joinAnd(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += " AND " + p
	}
	return out
}
