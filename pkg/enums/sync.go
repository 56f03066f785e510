package enums

import "fmt"

// SyncOperationType names the kind of mutation held in the sync queue.
type SyncOperationType string

const (
	SyncOperationSubmitOrder SyncOperationType = "submit_order"
)

var validSyncOperationTypes = []SyncOperationType{
	SyncOperationSubmitOrder,
}

// IsValid reports whether the value is a known SyncOperationType.
func (s SyncOperationType) IsValid() bool {
	for _, candidate := range validSyncOperationTypes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSyncOperationType converts raw input into a SyncOperationType.
func ParseSyncOperationType(value string) (SyncOperationType, error) {
	for _, candidate := range validSyncOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync operation type %q", value)
}

// SyncStatus is the lifecycle state of a queued operation.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusDone    SyncStatus = "done"
	SyncStatusFailed  SyncStatus = "failed"
)

var validSyncStatuses = []SyncStatus{
	SyncStatusPending,
	SyncStatusDone,
	SyncStatusFailed,
}

func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

type SyncDLQErrorReason string

const (
	SyncDLQReasonMaxAttempts  SyncDLQErrorReason = "max_attempts"
	SyncDLQReasonNonRetryable SyncDLQErrorReason = "non_retryable"
	SyncDLQReasonDecodeFailed SyncDLQErrorReason = "decode_failed"
)

var validSyncDLQErrorReasons = []SyncDLQErrorReason{
	SyncDLQReasonMaxAttempts,
	SyncDLQReasonNonRetryable,
	SyncDLQReasonDecodeFailed,
}

func (r SyncDLQErrorReason) IsValid() bool {
	for _, candidate := range validSyncDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
