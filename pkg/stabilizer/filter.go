package stabilizer

import "math"

// minCovariance keeps the error covariance strictly positive. A zero
// covariance would drive the gain to zero and freeze the estimate forever.
const minCovariance = 1e-9

// Axis indexes the three trajectory components.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisAngle
)

// Trajectory is a point on the camera path: cumulative translation in
// full-frame pixels and cumulative rotation in radians.
type Trajectory struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	A float64 `json:"a"`
}

// Add accumulates a per-frame motion increment.
func (t Trajectory) Add(m Motion) Trajectory {
	return Trajectory{X: t.X + m.DX, Y: t.Y + m.DY, A: t.A + m.DA}
}

// Sub returns t - o per axis.
func (t Trajectory) Sub(o Trajectory) Trajectory {
	return Trajectory{X: t.X - o.X, Y: t.Y - o.Y, A: t.A - o.A}
}

func (t Trajectory) vec() [3]float64 { return [3]float64{t.X, t.Y, t.A} }

func trajectoryOf(v [3]float64) Trajectory { return Trajectory{X: v[0], Y: v[1], A: v[2]} }

// TrajectoryFilter smooths the cumulative trajectory with three independent
// scalar Kalman filters (x, y, angle). There are no cross-axis terms.
type TrajectoryFilter struct {
	q [3]float64 // process noise variance
	r [3]float64 // measurement noise variance

	estimate   [3]float64
	covariance [3]float64
	gain       [3]float64

	initialized bool
	updates     uint64
}

// NewTrajectoryFilter creates a filter with one variance pair broadcast to
// every axis.
func NewTrajectoryFilter(processVar, measVar float64) *TrajectoryFilter {
	return NewTrajectoryFilterPerAxis(
		[3]float64{processVar, processVar, processVar},
		[3]float64{measVar, measVar, measVar},
	)
}

// NewTrajectoryFilterPerAxis creates a filter with separate tuning per axis.
func NewTrajectoryFilterPerAxis(processVar, measVar [3]float64) *TrajectoryFilter {
	return &TrajectoryFilter{q: processVar, r: measVar}
}

// Initialized reports whether the first measurement has been seen.
func (f *TrajectoryFilter) Initialized() bool { return f.initialized }

// Init starts the filter at estimate 0 and covariance 1 on every axis.
func (f *TrajectoryFilter) Init() {
	f.estimate = [3]float64{}
	f.covariance = [3]float64{1, 1, 1}
	f.gain = [3]float64{}
	f.initialized = true
}

// Observe feeds one cumulative trajectory measurement. The first call only
// initializes; every later call runs a predict/update step.
func (f *TrajectoryFilter) Observe(z Trajectory) Trajectory {
	if !f.initialized {
		f.Init()
		return f.Estimate()
	}
	f.Update(z)
	return f.Estimate()
}

// Update runs one predict/update step per axis.
func (f *TrajectoryFilter) Update(z Trajectory) {
	meas := z.vec()
	for i := 0; i < 3; i++ {
		// Random-walk model: the prediction keeps the estimate and grows P.
		predicted := f.estimate[i]
		pPredict := f.covariance[i] + f.q[i]

		k := pPredict / (pPredict + f.r[i])
		f.estimate[i] = predicted + k*(meas[i]-predicted)
		f.covariance[i] = math.Max((1-k)*pPredict, minCovariance)
		f.gain[i] = k
	}
	f.updates++
}

// Estimate returns the smoothed trajectory.
func (f *TrajectoryFilter) Estimate() Trajectory { return trajectoryOf(f.estimate) }

// Covariance returns the per-axis error covariance.
func (f *TrajectoryFilter) Covariance() [3]float64 { return f.covariance }

// Gain returns the per-axis Kalman gain of the last update.
func (f *TrajectoryFilter) Gain() [3]float64 { return f.gain }

// Updates returns how many predict/update steps have run.
func (f *TrajectoryFilter) Updates() uint64 { return f.updates }

// SteadyStateGain returns the gain the filter converges to for the given
// variances. The covariance fixed point solves P² - qP - qr = 0 for the
// predicted covariance.
func SteadyStateGain(processVar, measVar float64) float64 {
	p := (processVar + math.Sqrt(processVar*processVar+4*processVar*measVar)) / 2
	return p / (p + measVar)
}

// SteadyStateCovariance returns the posterior covariance fixed point.
func SteadyStateCovariance(processVar, measVar float64) float64 {
	k := SteadyStateGain(processVar, measVar)
	p := (processVar + math.Sqrt(processVar*processVar+4*processVar*measVar)) / 2
	return (1 - k) * p
}

// ShakeAttenuation returns how much a frame-to-frame alternating shake is
// reduced in the smoothed trajectory once the gain has settled. The filter
// is a first-order low-pass with response K/(2-K) at the Nyquist rate.
func ShakeAttenuation(processVar, measVar float64) float64 {
	k := SteadyStateGain(processVar, measVar)
	return (2 - k) / k
}
