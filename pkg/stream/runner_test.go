package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
)

// sliceSource serves n solid frames then io.EOF. A negative n never ends.
type sliceSource struct {
	n    int
	read int
	err  error
}

func (s *sliceSource) Read(ctx context.Context, dst *gocv.Mat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	if s.n >= 0 && s.read >= s.n {
		return io.EOF
	}
	s.read++
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(s.read), 0, 0, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return nil
}

func (s *sliceSource) Close() error { return nil }

// countSink records the first channel value of each frame.
type countSink struct {
	mu     sync.Mutex
	values []uint8
	limit  int
	err    error
}

func (s *countSink) Write(frame gocv.Mat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.values = append(s.values, frame.GetVecbAt(0, 0)[0])
	return nil
}

func (s *countSink) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit == 0 || len(s.values) < s.limit
}

func (s *countSink) Close() error { return nil }

func (s *countSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// passStab echoes frames and records enable changes.
type passStab struct {
	mu      sync.Mutex
	enabled bool
	calls   int
	err     error
}

func (p *passStab) Process(frame gocv.Mat) (gocv.Mat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return gocv.NewMat(), p.err
	}
	return frame.Clone(), nil
}

func (p *passStab) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = !p.enabled
	return p.enabled
}

func (p *passStab) SetEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = on
}

func (p *passStab) Stats() stabilizer.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return stabilizer.Stats{Enabled: p.enabled, Frames: uint64(p.calls)}
}

func TestRunner_OneOutputPerInput(t *testing.T) {
	src := &sliceSource{n: 40}
	sink := &countSink{}
	r := NewRunner(src, &passStab{enabled: true}, sink)

	var seen []uint64
	r.OnFrame = func(st stabilizer.Stats) { seen = append(seen, st.Frames) }

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 40, sink.count())
	assert.Equal(t, uint64(40), r.Frames())
	require.Len(t, seen, 40)
	assert.Equal(t, uint64(40), seen[39])

	for i, v := range sink.values {
		assert.Equal(t, uint8(i+1), v, "frame order")
	}
}

func TestRunner_StopsWhenSinkDies(t *testing.T) {
	sink := &countSink{limit: 5}
	r := NewRunner(&sliceSource{n: -1}, &passStab{}, sink)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 5, sink.count())
}

func TestRunner_Commands(t *testing.T) {
	stab := &passStab{enabled: true}
	r := NewRunner(&sliceSource{n: 3}, stab, &countSink{})

	require.True(t, r.Send(CmdToggle))
	require.True(t, r.Send(CmdToggle))
	require.True(t, r.Send(CmdDisable))
	require.NoError(t, r.Run(context.Background()))
	assert.False(t, stab.enabled)

	r = NewRunner(&sliceSource{n: 3}, stab, &countSink{})
	r.Commands() <- CmdEnable
	require.NoError(t, r.Run(context.Background()))
	assert.True(t, stab.enabled)
}

func TestRunner_Quit(t *testing.T) {
	sink := &countSink{}
	r := NewRunner(&sliceSource{n: -1}, &passStab{}, sink)
	r.OnFrame = func(st stabilizer.Stats) {
		if st.Frames == 7 {
			r.Send(CmdQuit)
		}
	}

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 7, sink.count())
}

func TestRunner_SendFull(t *testing.T) {
	r := NewRunner(&sliceSource{}, &passStab{}, &countSink{}, WithCommandBuffer(1))
	assert.True(t, r.Send(CmdToggle))
	assert.False(t, r.Send(CmdToggle))
}

func TestRunner_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sink := &countSink{}
	r := NewRunner(&sliceSource{n: -1}, &passStab{}, sink)
	r.OnFrame = func(st stabilizer.Stats) {
		if st.Frames == 3 {
			cancel()
		}
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, 3, sink.count())
}

func TestRunner_Errors(t *testing.T) {
	boom := errors.New("device unplugged")
	err := NewRunner(&sliceSource{err: boom}, &passStab{}, &countSink{}).Run(context.Background())
	assert.ErrorIs(t, err, boom)

	err = NewRunner(&sliceSource{n: 2}, &passStab{err: stabilizer.ErrUnsupportedFrame}, &countSink{}).Run(context.Background())
	assert.ErrorIs(t, err, stabilizer.ErrUnsupportedFrame)

	werr := errors.New("disk full")
	err = NewRunner(&sliceSource{n: 2}, &passStab{}, &countSink{err: werr}).Run(context.Background())
	assert.ErrorIs(t, err, werr)
}

func TestRunner_WithEngine(t *testing.T) {
	cfg := stabilizer.DefaultConfig()
	e, err := stabilizer.New(cfg)
	require.NoError(t, err)
	defer e.Close()

	sink := &countSink{}
	r := NewRunner(&sliceSource{n: 10}, e, sink)
	r.Send(CmdToggle)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 10, sink.count())
	assert.False(t, e.Enabled())
	assert.Equal(t, uint64(10), e.Stats().Frames)
}

func TestKeyCommand(t *testing.T) {
	tests := []struct {
		key  int
		want Command
		ok   bool
	}{
		{'s', CmdToggle, true},
		{'S', CmdToggle, true},
		{'q', CmdQuit, true},
		{'Q', CmdQuit, true},
		{27, CmdQuit, true},
		{'x', 0, false},
	}
	for _, tt := range tests {
		got, ok := KeyCommand(tt.key)
		assert.Equal(t, tt.ok, ok, "key %q", rune(tt.key))
		assert.Equal(t, tt.want, got, "key %q", rune(tt.key))
	}
	assert.Equal(t, "quit", CmdQuit.String())
}
