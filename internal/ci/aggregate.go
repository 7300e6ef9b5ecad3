package ci

// Aggregate computes a run's overall status from its jobs alone.
//
// Any failed or cancelled job makes the run a failure, even while other jobs
// are still pending. Success requires every job to be success or skipped. An
// empty job set is pending: no jobs reported yet is not a pass.
func Aggregate(jobs []Job) RunStatus {
	if len(jobs) == 0 {
		return RunPending
	}
	allDone := true
	for _, j := range jobs {
		switch j.Conclusion {
		case ConclusionFailure, ConclusionCancelled:
			return RunFailure
		case ConclusionSuccess, ConclusionSkipped:
		default:
			allDone = false
		}
	}
	if allDone {
		return RunSuccess
	}
	return RunPending
}

// Settle combines the job-level aggregate with the provider's own run status.
// A failed job fails the run whatever the provider says. A job-level success
// only counts once the provider also reports the run as ended, since a
// provider that is still queueing work has jobs it has not listed yet. A run
// with no jobs fails if the provider ended it unsuccessfully and is pending
// otherwise.
func Settle(provider RunStatus, jobs []Job) RunStatus {
	if len(jobs) == 0 {
		if provider.Terminal() && provider != RunSuccess {
			return RunFailure
		}
		return RunPending
	}
	status := Aggregate(jobs)
	if status == RunSuccess && !provider.Terminal() {
		return RunPending
	}
	return status
}
