package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
)

// DecoderCommand builds the decoder process for a frame size. It reads an
// H264 Annex-B stream on stdin and writes raw bgr24 frames on stdout.
type DecoderCommand func(ctx context.Context, size image.Point) *exec.Cmd

// FFmpegCommand is the default decoder process.
func FFmpegCommand(ctx context.Context, size image.Point) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-f", "h264",
		"-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", size.X, size.Y),
		"-pix_fmt", "bgr24",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// Decoder keeps one ffmpeg process alive for the whole stream and turns the
// H264 elementary stream into BGR Mats. Only the newest decoded frame is
// kept; the stabilizer always wants the freshest image.
type Decoder struct {
	size   image.Point
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	cancel context.CancelFunc

	frames chan []byte
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

// NewDecoder starts the decoder process for frames of the given size.
// A nil command uses FFmpegCommand.
func NewDecoder(size image.Point, command DecoderCommand) (*Decoder, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("decoder: invalid frame size %v", size)
	}
	if command == nil {
		command = FFmpegCommand
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := command(ctx, size)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("decoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start decoder: %w", err)
	}

	d := &Decoder{
		size:   size,
		logger: log.Component("decoder"),
		cmd:    cmd,
		stdin:  stdin,
		cancel: cancel,
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
	go d.readLoop(stdout)

	d.logger.Info("decoder started", "width", size.X, "height", size.Y, "process", cmd.Path)
	return d, nil
}

// Write feeds H264 bytes to the decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	n, err := d.stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("decoder write: %w", err)
	}
	return n, nil
}

// readLoop slices stdout into whole frames.
func (d *Decoder) readLoop(stdout io.Reader) {
	defer close(d.done)

	r := bufio.NewReaderSize(stdout, d.frameSize())
	for {
		buf := make([]byte, d.frameSize())
		if _, err := io.ReadFull(r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				d.setErr(fmt.Errorf("decoder read: %w", err))
			}
			return
		}

		// Replace a frame nobody has picked up yet.
		select {
		case d.frames <- buf:
		default:
			select {
			case <-d.frames:
			default:
			}
			d.frames <- buf
		}
	}
}

// Next blocks until a decoded frame is available and copies it into dst.
// It returns io.EOF once the decoder process has exited.
func (d *Decoder) Next(ctx context.Context, dst *gocv.Mat) error {
	select {
	case buf := <-d.frames:
		return d.fill(buf, dst)
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		// Drain a frame produced right before exit.
		select {
		case buf := <-d.frames:
			return d.fill(buf, dst)
		default:
		}
		if err := d.Err(); err != nil {
			return err
		}
		return io.EOF
	}
}

func (d *Decoder) fill(buf []byte, dst *gocv.Mat) error {
	m, err := gocv.NewMatFromBytes(d.size.Y, d.size.X, gocv.MatTypeCV8UC3, buf)
	if err != nil {
		return fmt.Errorf("decoder frame: %w", err)
	}
	defer m.Close()
	m.CopyTo(dst)
	return nil
}

func (d *Decoder) frameSize() int { return d.size.X * d.size.Y * 3 }

func (d *Decoder) setErr(err error) {
	d.mu.Lock()
	if d.err == nil && !d.closed {
		d.err = err
	}
	d.mu.Unlock()
}

// Err returns the first read error, if any.
func (d *Decoder) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close stops the process and waits for it to exit.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.stdin.Close()
	d.cancel()
	<-d.done
	d.cmd.Wait()
	d.logger.Debug("decoder stopped")
	return nil
}
