package ndt

import (
	"math"

	"github.com/pkg/errors"
)

// InverseModel turns hit and miss counts into an occupancy probability. Each observation moves
// the log odds of a cell away from the prior by the log odds of its own probability.
type InverseModel struct {
	probPrior    float64
	probFree     float64
	probOccupied float64

	logOddsPrior    float64
	logOddsFree     float64
	logOddsOccupied float64
}

// NewInverseModel returns a model from the prior probability of a cell being occupied and the
// probabilities assigned to a cell after a single miss or hit. All three must lie in (0, 1).
func NewInverseModel(prior, free, occupied float64) (*InverseModel, error) {
	for name, p := range map[string]float64{"prior": prior, "free": free, "occupied": occupied} {
		if !(p > 0 && p < 1) {
			return nil, errors.Errorf("inverse model %s probability must be in (0, 1), got %v", name, p)
		}
	}
	return &InverseModel{
		probPrior:       prior,
		probFree:        free,
		probOccupied:    occupied,
		logOddsPrior:    LogOdds(prior),
		logOddsFree:     LogOdds(free),
		logOddsOccupied: LogOdds(occupied),
	}, nil
}

// ProbPrior returns the occupancy probability of an unobserved cell.
func (m *InverseModel) ProbPrior() float64 { return m.probPrior }

// ProbFree returns the occupancy probability after one miss.
func (m *InverseModel) ProbFree() float64 { return m.probFree }

// ProbOccupied returns the occupancy probability after one hit.
func (m *InverseModel) ProbOccupied() float64 { return m.probOccupied }

// LogOddsPrior returns the log odds of ProbPrior.
func (m *InverseModel) LogOddsPrior() float64 { return m.logOddsPrior }

// LogOddsFree returns the log odds of ProbFree.
func (m *InverseModel) LogOddsFree() float64 { return m.logOddsFree }

// LogOddsOccupied returns the log odds of ProbOccupied.
func (m *InverseModel) LogOddsOccupied() float64 { return m.logOddsOccupied }

// Occupancy returns the probability of a cell with the given hit and miss counts being occupied.
func (m *InverseModel) Occupancy(numOccupied, numFree int) float64 {
	return ProbFromLogOdds(m.logOddsPrior +
		float64(numOccupied)*(m.logOddsOccupied-m.logOddsPrior) +
		float64(numFree)*(m.logOddsFree-m.logOddsPrior))
}

// LogOdds returns log(p / (1 - p)).
func LogOdds(p float64) float64 {
	return math.Log(p / (1 - p))
}

// ProbFromLogOdds is the inverse of LogOdds.
func ProbFromLogOdds(l float64) float64 {
	return 1 - 1/(1+math.Exp(l))
}
