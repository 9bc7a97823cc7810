package constants

// JobStatus is the canonical lifecycle status for an extraction job.
type JobStatus string

// Stable values (store these exact strings in the status document).
const (
	JobStatusPending    JobStatus = "PENDING"     // metadata created, nothing generated yet
	JobStatusGenerated  JobStatus = "GENERATED"   // request payloads generated locally
	JobStatusSubmitted  JobStatus = "SUBMITTED"   // handed to a provider (batch mode)
	JobStatusValidating JobStatus = "VALIDATING"  // provider is validating the input file
	JobStatusInProgress JobStatus = "IN_PROGRESS" // rows are being processed
	JobStatusFinalizing JobStatus = "FINALIZING"  // provider is assembling results
	JobStatusCompleted  JobStatus = "COMPLETED"   // terminal success
	JobStatusFailed     JobStatus = "FAILED"      // terminal failure
	JobStatusCancelled  JobStatus = "CANCELLED"   // terminal, cancelled by the operator
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Running reports whether a job in this status is considered active.
// PENDING is excluded: a job that never generated anything holds no resources.
func (s JobStatus) Running() bool {
	switch s {
	case JobStatusGenerated, JobStatusSubmitted, JobStatusValidating,
		JobStatusInProgress, JobStatusFinalizing:
		return true
	}
	return false
}
