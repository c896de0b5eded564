package training

// LRScheduler maps an epoch to a learning rate. Schedulers are pure
// functions of their inputs so epochs can be replayed or resumed without
// hidden state.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// ConstantLRScheduler keeps the base learning rate for the whole run.
type ConstantLRScheduler struct{}

// NewConstantLRScheduler creates a scheduler that never changes the rate.
func NewConstantLRScheduler() *ConstantLRScheduler {
	return &ConstantLRScheduler{}
}

func (s *ConstantLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLRScheduler) GetName() string {
	return "ConstantLR"
}

// BoundaryLRScheduler divides the learning rate by Factor once the run
// reaches DecayEpoch, and keeps the reduced rate for every epoch after.
type BoundaryLRScheduler struct {
	DecayEpoch int
	Factor     float64
}

// NewBoundaryLRScheduler creates a single-boundary decay scheduler.
func NewBoundaryLRScheduler(decayEpoch int, factor float64) *BoundaryLRScheduler {
	if factor <= 0 {
		factor = 10
	}
	return &BoundaryLRScheduler{
		DecayEpoch: decayEpoch,
		Factor:     factor,
	}
}

func (s *BoundaryLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.DecayEpoch {
		return baseLR / s.Factor
	}
	return baseLR
}

func (s *BoundaryLRScheduler) GetName() string {
	return "BoundaryLR"
}
