package store

// Role of a stored conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation groups the messages of one analytics chat thread.
type Conversation struct {
	UID       string
	UserID    string
	Title     string
	CreatedTs int64
	UpdatedTs int64
	ID        int32
}

// FindConversation filters conversation lookups.
type FindConversation struct {
	UID    *string
	UserID *string
}

// Message is one stored turn of a conversation. Assistant messages
// carry the run metadata serialized as JSON for later inspection.
type Message struct {
	UID             string
	ConversationUID string
	Role            Role
	Content         string
	RunID           string
	MetadataJSON    string
	CreatedTs       int64
	ID              int32
}

// FindMessages filters message lookups.
type FindMessages struct {
	ConversationUID string
	Limit           int // 0 means no limit
}

// UserProfile is the per-user context injected into prompts: timezone,
// primary platform, preferred tone. Free-form key/value pairs.
type UserProfile struct {
	UserID string
	Fields map[string]string
}
