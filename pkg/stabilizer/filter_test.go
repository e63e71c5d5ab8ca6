package stabilizer

import (
	"math"
	"testing"
)

func TestTrajectoryFilter_FirstObserveInitializes(t *testing.T) {
	f := NewTrajectoryFilter(0.03, 2)
	if f.Initialized() {
		t.Fatal("new filter must not be initialized")
	}

	got := f.Observe(Trajectory{X: 12, Y: -4, A: 0.1})
	if got != (Trajectory{}) {
		t.Errorf("first estimate = %+v, want zero", got)
	}
	if f.Covariance() != [3]float64{1, 1, 1} {
		t.Errorf("first covariance = %v, want all 1", f.Covariance())
	}
	if f.Updates() != 0 {
		t.Errorf("first observation must not run an update, got %d", f.Updates())
	}
	if !f.Initialized() {
		t.Error("filter should be initialized after first observation")
	}
}

func TestTrajectoryFilter_SingleUpdate(t *testing.T) {
	f := NewTrajectoryFilter(0.03, 2)
	f.Init()
	f.Update(Trajectory{X: 3, Y: -6, A: 0.3})

	pPredict := 1.03
	k := pPredict / (pPredict + 2)
	want := Trajectory{X: 3 * k, Y: -6 * k, A: 0.3 * k}

	est := f.Estimate()
	if math.Abs(est.X-want.X) > 1e-12 || math.Abs(est.Y-want.Y) > 1e-12 || math.Abs(est.A-want.A) > 1e-12 {
		t.Errorf("estimate = %+v, want %+v", est, want)
	}
	for i, p := range f.Covariance() {
		if math.Abs(p-(1-k)*pPredict) > 1e-12 {
			t.Errorf("axis %d covariance = %v, want %v", i, p, (1-k)*pPredict)
		}
	}
	for i, g := range f.Gain() {
		if math.Abs(g-k) > 1e-12 {
			t.Errorf("axis %d gain = %v, want %v", i, g, k)
		}
	}
}

func TestTrajectoryFilter_CovarianceConverges(t *testing.T) {
	const q, r = 0.03, 2.0
	f := NewTrajectoryFilter(q, r)
	f.Init()

	prev := f.Covariance()[AxisX]
	for i := 0; i < 200; i++ {
		f.Update(Trajectory{})
		p := f.Covariance()[AxisX]
		if p > prev+1e-15 {
			t.Fatalf("step %d: covariance grew from %v to %v", i, prev, p)
		}
		prev = p
	}

	if want := SteadyStateCovariance(q, r); math.Abs(prev-want) > 1e-6 {
		t.Errorf("covariance = %v, want steady state %v", prev, want)
	}
	if want := SteadyStateGain(q, r); math.Abs(f.Gain()[AxisX]-want) > 1e-6 {
		t.Errorf("gain = %v, want steady state %v", f.Gain()[AxisX], want)
	}
}

func TestTrajectoryFilter_ConstantPanTracksRate(t *testing.T) {
	f := NewTrajectoryFilter(0.03, 2)

	var traj Trajectory
	var prev Trajectory
	for i := 0; i < 150; i++ {
		traj = traj.Add(Motion{DX: 5})
		est := f.Observe(traj)
		if i > 100 {
			if rate := est.X - prev.X; math.Abs(rate-5) > 0.05 {
				t.Fatalf("frame %d: smoothed rate = %v, want 5", i, rate)
			}
		}
		prev = est
	}
}

func TestTrajectoryFilter_ShakeAttenuation(t *testing.T) {
	const q, r = 0.03, 2.0
	const n = 200
	f := NewTrajectoryFilter(q, r)

	// A steady 1 px/frame pan with a ±3 px frame-to-frame shake on top.
	var traj Trajectory
	raw := make([]float64, n)
	smoothed := make([]float64, n)
	var prev float64
	for i := 0; i < n; i++ {
		d := 1.0 + 3*math.Pow(-1, float64(i))
		traj = traj.Add(Motion{DX: d})
		est := f.Observe(traj)
		raw[i] = d
		smoothed[i] = est.X - prev
		prev = est.X
	}

	const from = 60
	var mean float64
	for _, v := range smoothed[from:] {
		mean += v
	}
	mean /= float64(n - from)
	if math.Abs(mean-1) > 0.02 {
		t.Errorf("smoothed pan rate = %v, want 1", mean)
	}

	got := stdDev(raw[from:]) / stdDev(smoothed[from:])
	want := ShakeAttenuation(q, r)
	if math.Abs(got-want)/want > 0.15 {
		t.Errorf("attenuation = %.2f, want about %.2f", got, want)
	}
	if got < 10 {
		t.Errorf("attenuation = %.2f, shake barely reduced", got)
	}
}

func TestTrajectoryFilter_PerAxisTuning(t *testing.T) {
	f := NewTrajectoryFilterPerAxis([3]float64{0.03, 0.03, 0.001}, [3]float64{2, 2, 2})
	f.Init()
	f.Update(Trajectory{X: 1, Y: 1, A: 1})

	g := f.Gain()
	if g[AxisX] != g[AxisY] {
		t.Errorf("x and y gains differ: %v vs %v", g[AxisX], g[AxisY])
	}
	if !(g[AxisAngle] < g[AxisX]) {
		t.Errorf("angle gain %v should be below x gain %v with less process noise", g[AxisAngle], g[AxisX])
	}
}

func TestTrajectoryFilter_CovarianceFloor(t *testing.T) {
	f := NewTrajectoryFilter(1e-30, 1e-30)
	f.Init()
	for i := 0; i < 10; i++ {
		f.Update(Trajectory{X: float64(i)})
	}
	for i, p := range f.Covariance() {
		if p < minCovariance {
			t.Errorf("axis %d covariance %v below floor", i, p)
		}
	}
}

func TestSteadyStateDefaults(t *testing.T) {
	k := SteadyStateGain(0.03, 2)
	if math.Abs(k-0.1152) > 0.001 {
		t.Errorf("SteadyStateGain(0.03, 2) = %v, want ~0.1152", k)
	}
	a := ShakeAttenuation(0.03, 2)
	if math.Abs(a-16.4) > 0.2 {
		t.Errorf("ShakeAttenuation(0.03, 2) = %v, want ~16.4", a)
	}
}

func stdDev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)))
}
