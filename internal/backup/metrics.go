package backup

// Metrics receives job and volume observations.
type Metrics interface {
	JobStarted()
	JobFinished(result *JobResult)
	RunRejected(outcome RunOutcome)
	VolumesObserved(volumes []*Volume)
}

// NopMetrics records nothing.
type NopMetrics struct{}

func (NopMetrics) JobStarted()               {}
func (NopMetrics) JobFinished(*JobResult)    {}
func (NopMetrics) RunRejected(RunOutcome)    {}
func (NopMetrics) VolumesObserved([]*Volume) {}
