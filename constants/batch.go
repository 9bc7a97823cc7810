package constants

// BatchState is the provider-agnostic lifecycle state of a remote batch job.
// Every concrete provider translates its native vocabulary into exactly one
// of these values; there is no "unknown" member on purpose.
type BatchState string

const (
	BatchValidating BatchState = "validating"
	BatchFailed     BatchState = "failed"
	BatchInProgress BatchState = "in_progress"
	BatchFinalizing BatchState = "finalizing"
	BatchCompleted  BatchState = "completed"
	BatchExpired    BatchState = "expired"
	BatchCancelling BatchState = "cancelling"
	BatchCancelled  BatchState = "cancelled"
)

// Terminal reports whether polling can stop for this state.
func (s BatchState) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}
