package store

import "context"

// Driver is an interface for store database drivers.
type Driver interface {
	GetDB() any
	Close() error

	Migrate(ctx context.Context) error

	CreateConversation(ctx context.Context, create *Conversation) (*Conversation, error)
	ListConversations(ctx context.Context, find *FindConversation) ([]*Conversation, error)

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessages) ([]*Message, error)

	UpsertUserProfileField(ctx context.Context, userID, key, value string) error
	GetUserProfile(ctx context.Context, userID string) (*UserProfile, error)
}
