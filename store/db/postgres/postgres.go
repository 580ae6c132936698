// Package postgres implements the store driver over lib/pq. This is
// the production driver.
package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/insightgrid/insightgrid/internal/profile"
	"github.com/insightgrid/insightgrid/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a connection pool to the database named by the profile DSN.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	if err := pgDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}

	return &DB{db: pgDB, profile: profile}, nil
}

func (d *DB) GetDB() any {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_user_id ON conversation (user_id);

CREATE TABLE IF NOT EXISTS message (
	id SERIAL PRIMARY KEY,
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
		VALUES ($1, $2, $3, $4, $5)
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
	query := `
		SELECT id, uid, user_id, title, created_ts, updated_ts
		FROM conversation
		WHERE ($1::text IS NULL OR uid = $1)
		  AND ($2::text IS NULL OR user_id = $2)
		ORDER BY updated_ts DESC
	`
	rows, err := d.db.QueryContext(ctx, query, nullable(find.UID), nullable(find.UserID))
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
		VALUES ($1, $2, $3, $4, $5, $6, $7)
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
		WHERE conversation_uid = $1
		ORDER BY created_ts DESC, id DESC
	`
	args := []any{find.ConversationUID}
	if find.Limit > 0 {
		query += " LIMIT $2"
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

	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	return list, nil
}

func (d *DB) UpsertUserProfileField(ctx context.Context, userID, key, value string) error {
	stmt := `
		INSERT INTO user_profile (user_id, field_key, field_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, field_key) DO UPDATE SET field_value = EXCLUDED.field_value
	`
	_, err := d.db.ExecContext(ctx, stmt, userID, key, value)
	return errors.Wrap(err, "upsert profile field")
}

func (d *DB) GetUserProfile(ctx context.Context, userID string) (*store.UserProfile, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT field_key, field_value FROM user_profile WHERE user_id = $1`, userID)
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

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
