package stabilizer

import (
	"math"
	"testing"
)

func TestHistory_Ring(t *testing.T) {
	var h history
	for i := 0; i < historySize+10; i++ {
		h.push(float64(i), 0, 0.5)
	}
	if h.n != historySize {
		t.Errorf("n = %d, want %d", h.n, historySize)
	}
	if h.next != 10 {
		t.Errorf("next = %d, want 10", h.next)
	}
	if g := h.meanGain(); g != 0.5 {
		t.Errorf("meanGain = %v, want 0.5", g)
	}
}

func TestHistory_Attenuation(t *testing.T) {
	var h history
	if h.attenuation() != 0 || h.meanGain() != 0 {
		t.Error("empty history should report zero")
	}

	for i := 0; i < 7; i++ {
		h.push(float64(i%2)*4, 1, 0.1)
	}
	if h.attenuation() != 0 {
		t.Error("attenuation needs at least 8 samples")
	}

	h = history{}
	for i := 0; i < 40; i++ {
		sign := math.Pow(-1, float64(i))
		h.push(1+3*sign, 1+0.3*sign, 0.1)
	}
	if a := h.attenuation(); math.Abs(a-10) > 1e-9 {
		t.Errorf("attenuation = %v, want 10", a)
	}

	h = history{}
	for i := 0; i < 10; i++ {
		h.push(float64(i), 2, 0.1)
	}
	if h.attenuation() != 0 {
		t.Error("flat smoothed motion should not divide by zero")
	}
}

func TestEngineStats_AttenuationReported(t *testing.T) {
	s := newScene(t, 31)
	e := newTestEngine(t, testConfig())

	for i := 0; i < 40; i++ {
		out := process(t, e, s.frame(2*(i%2), 0))
		out.Close()
	}

	st := e.Stats()
	if st.Attenuation <= 1 {
		t.Errorf("shake should be attenuated, got %v", st.Attenuation)
	}
	if st.MeanGain <= 0 || st.MeanGain >= 1 {
		t.Errorf("mean gain out of range: %v", st.MeanGain)
	}
	if st.Session == "" || st.Backend == "" {
		t.Error("session and backend should be set")
	}
}
