// Package store persists conversations, messages, and user profiles,
// with short-lived caches in front of the hot read paths.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/insightgrid/insightgrid/internal/profile"
)

// summaryMessageLimit caps how many recent turns feed the context summary.
const summaryMessageLimit = 10

// Store provides database access to all stored objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	summaryCache *ttlcache.Cache[string, string]
	profileCache *ttlcache.Cache[string, *UserProfile]
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	summaryCache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](5 * time.Minute),
	)
	profileCache := ttlcache.New[string, *UserProfile](
		ttlcache.WithTTL[string, *UserProfile](10 * time.Minute),
	)
	go summaryCache.Start()
	go profileCache.Start()

	return &Store{
		profile:      profile,
		driver:       driver,
		summaryCache: summaryCache,
		profileCache: profileCache,
	}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	s.summaryCache.Stop()
	s.profileCache.Stop()
	return s.driver.Close()
}

// CreateConversation starts a new thread for a user.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	now := time.Now().Unix()
	return s.driver.CreateConversation(ctx, &Conversation{
		UID:       "conv_" + shortuuid.New(),
		UserID:    userID,
		Title:     title,
		CreatedTs: now,
		UpdatedTs: now,
	})
}

// GetConversation finds one conversation by UID, scoped to the user.
func (s *Store) GetConversation(ctx context.Context, userID, uid string) (*Conversation, error) {
	list, err := s.driver.ListConversations(ctx, &FindConversation{UID: &uid, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("conversation %s not found", uid)
	}
	return list[0], nil
}

// ListConversations returns all threads for a user.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	return s.driver.ListConversations(ctx, &FindConversation{UserID: &userID})
}

// SaveMessage appends one turn and invalidates the cached summary.
func (s *Store) SaveMessage(ctx context.Context, msg *Message) (*Message, error) {
	if msg.UID == "" {
		msg.UID = "msg_" + shortuuid.New()
	}
	if msg.CreatedTs == 0 {
		msg.CreatedTs = time.Now().Unix()
	}
	created, err := s.driver.CreateMessage(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "save message")
	}
	s.summaryCache.Delete(msg.ConversationUID)
	return created, nil
}

// ListMessages returns messages of a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationUID string, limit int) ([]*Message, error) {
	return s.driver.ListMessages(ctx, &FindMessages{ConversationUID: conversationUID, Limit: limit})
}

// GetContextSummary returns a compact recap of the recent turns of a
// conversation, suitable for prompt injection. The conversation must
// belong to the user; history never crosses user boundaries. The built
// summary is cached briefly since a multi-question session rereads it
// on every query.
func (s *Store) GetContextSummary(ctx context.Context, userID, conversationUID string) (string, error) {
	if conversationUID == "" {
		return "", nil
	}
	if _, err := s.GetConversation(ctx, userID, conversationUID); err != nil {
		return "", err
	}
	if item := s.summaryCache.Get(conversationUID); item != nil {
		return item.Value(), nil
	}

	messages, err := s.driver.ListMessages(ctx, &FindMessages{
		ConversationUID: conversationUID,
		Limit:           summaryMessageLimit,
	})
	if err != nil {
		return "", errors.Wrap(err, "load conversation history")
	}
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, firstLine(m.Content, 200))
	}
	summary := sb.String()
	s.summaryCache.Set(conversationUID, summary, ttlcache.DefaultTTL)
	return summary, nil
}

// GetUserProfile returns the prompt-context fields for a user. A user
// with no stored fields gets an empty profile, not an error.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	if item := s.profileCache.Get(userID); item != nil {
		return item.Value(), nil
	}
	p, err := s.driver.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load user profile")
	}
	s.profileCache.Set(userID, p, ttlcache.DefaultTTL)
	return p, nil
}

// SetUserProfileField stores one profile field and drops the cache entry.
func (s *Store) SetUserProfileField(ctx context.Context, userID, key, value string) error {
	if err := s.driver.UpsertUserProfileField(ctx, userID, key, value); err != nil {
		return errors.Wrap(err, "upsert profile field")
	}
	s.profileCache.Delete(userID)
	return nil
}

// firstLine truncates content to a single line of at most max runes.
func firstLine(content string, max int) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	runes := []rune(content)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return content
}
