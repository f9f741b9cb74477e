package queues

// Header keys used on queue messages that carry outbound business data destined
// for a connected channel, or that report a delivery failure back to the caller.
const (
	HeaderChannelID = "channel_id"
	HeaderPriority  = "priority"
	HeaderShardID   = "shard_id"

	// Dead-letter queue headers, set when a message is republished because
	// its addressed channel is not registered on this instance.
	HeaderDLQOriginalQueue = "dlq_original_queue"
	HeaderDLQErrorMessage  = "dlq_error_message"
)
