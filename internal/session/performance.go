package session

// Performance is the on-screen indicator comparing elapsed service time with
// the predicted duration.
type Performance string

const (
	PerformanceUnknown Performance = ""
	OnTrack            Performance = "on_track"
	AtRisk             Performance = "at_risk"
	Overrun            Performance = "overrun"
)

const atRiskRatio = 0.8

// Evaluate classifies elapsed minutes against predicted minutes. Without a
// prediction there is nothing to compare against.
func Evaluate(elapsed, predicted float64) Performance {
	switch {
	case predicted <= 0:
		return PerformanceUnknown
	case elapsed <= atRiskRatio*predicted:
		return OnTrack
	case elapsed <= predicted:
		return AtRisk
	default:
		return Overrun
	}
}
