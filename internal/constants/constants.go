package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultBridgeTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixStatus = "msgstatus:"
)

const (
	DefaultAuditTopic      = "courier_audit_events"
	DefaultDeadLetterTopic = "courier_dead_letters"
)

const (
	DefaultMongoDBName          = "courier"
	DeadLetterArchiveCollection = "dead_letters"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// Response bodies attached to delivery errors are truncated to this
	// length before being persisted on attempt rows.
	ResponseExcerptLen = 256

	MaxBodyLen = 1024
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

const (
	// Source recorded for rows enqueued through the outbound API; their
	// source_message_id is the row id itself so the natural key stays unique.
	OutboundSource = "outbound-api"
)
