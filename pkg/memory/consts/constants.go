package consts

const (
	// DefaultDBName is the default database name.
	DefaultDBName = "ragchat"

	// TableNameMessages is the default table/collection name for messages.
	TableNameMessages = "chat_messages"

	// Column names
	ColSessionID = "session_id"
	ColRole      = "role"
	ColContent   = "content"
	ColMetadata  = "metadata"
	ColCreatedAt = "created_at"

	// Redis key prefix, followed by the session id.
	KeyPrefixSession = "ragchat:session:"

	// Neo4j specific
	LabelSession  = "Session"
	LabelMessage  = "Message"
	RelHasMessage = "HAS_MESSAGE"
)
