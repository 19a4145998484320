package models

// DeadLetterReason represents why a job was sent to the DLQ
type DeadLetterReason string

const (
	DLQReasonMaxRetries    DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidJob    DeadLetterReason = "invalid_job"
	DLQReasonNotFound      DeadLetterReason = "not_found"
	DLQReasonNotConfigured DeadLetterReason = "not_configured"
	DLQReasonUnknown       DeadLetterReason = "unknown"
)
