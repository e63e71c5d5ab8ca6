// Package video provides the frame sources and sinks around the stabilizer:
// OpenCV capture (files, devices, RTSP, GStreamer pipelines), a WebRTC
// client for GStreamer webrtcsink producers, and file, window and
// websocket preview sinks.
package video

import (
	"context"
	"errors"

	"gocv.io/x/gocv"
)

// ErrClosed is returned by sources and sinks used after Close.
var ErrClosed = errors.New("video: closed")

// Source produces BGR frames. Read fills dst with the next frame and returns
// io.EOF when the stream has ended.
type Source interface {
	Read(ctx context.Context, dst *gocv.Mat) error
	Close() error
}

// Sink consumes BGR frames. Alive turns false once the sink can no longer
// accept frames (window closed, viewer quit); the pipeline stops then.
type Sink interface {
	Write(frame gocv.Mat) error
	Alive() bool
	Close() error
}

// MultiSink fans frames out to several sinks. It is alive while every sink
// is alive.
type MultiSink []Sink

// Write passes frame to every sink and returns the joined errors.
func (m MultiSink) Write(frame gocv.Mat) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Alive reports whether all sinks still accept frames.
func (m MultiSink) Alive() bool {
	for _, s := range m {
		if !s.Alive() {
			return false
		}
	}
	return true
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
