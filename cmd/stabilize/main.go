// Stabilize - real-time video stabilization
//
// Reads frames from a capture URI (file, device index, RTSP URL, GStreamer
// pipeline) or a WebRTC producer, stabilizes them and shows, records or
// serves the result. Press s in the window to toggle, q or ESC to quit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-stabilizer/internal/config"
	"github.com/teslashibe/go-stabilizer/internal/log"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
	"github.com/teslashibe/go-stabilizer/pkg/stream"
	"github.com/teslashibe/go-stabilizer/pkg/video"
	"github.com/teslashibe/go-stabilizer/pkg/web"
)

type options struct {
	input    string
	webrtc   string
	producer string
	width    int
	height   int

	preset     string
	configPath string
	backend    string
	downSample float64
	zoom       float64
	mask       bool
	showROI    bool
	showPoints bool
	showRaw    bool
	disabled   bool

	window bool
	output string
	codec  string

	serve   bool
	port    string
	preview time.Duration

	logLevel  string
	logFormat string
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("stabilize", flag.ContinueOnError)
	fs.StringVar(&o.input, "input", "", "Capture URI: file, device index, RTSP URL or GStreamer pipeline")
	fs.StringVar(&o.webrtc, "webrtc", "", "WebRTC signalling host (host or host:port) instead of -input")
	fs.StringVar(&o.producer, "producer", "", "WebRTC producer name (default: first listed)")
	fs.IntVar(&o.width, "width", 1280, "Decoded WebRTC frame width")
	fs.IntVar(&o.height, "height", 720, "Decoded WebRTC frame height")

	fs.StringVar(&o.preset, "preset", stabilizer.PresetDefault, fmt.Sprintf("Config preset %v", stabilizer.PresetNames()))
	fs.StringVar(&o.configPath, "config", "", "JSON config overlaid on the preset")
	fs.StringVar(&o.backend, "backend", config.Backend(), "Image backend: cpu, cuda, auto")
	fs.Float64Var(&o.downSample, "downsample", 0, "Tracking downsample factor in (0, 1] (overrides config)")
	fs.Float64Var(&o.zoom, "zoom", 0, "Zoom factor in (0, 1] (overrides config)")
	fs.BoolVar(&o.mask, "mask", false, "Enable the static output mask")
	fs.BoolVar(&o.showROI, "show-roi", false, "Draw the tracking region")
	fs.BoolVar(&o.showPoints, "show-points", false, "Draw tracked points")
	fs.BoolVar(&o.showRaw, "show-unstabilized", false, "Show the unstabilized tracking region in a second window")
	fs.BoolVar(&o.disabled, "disabled", false, "Start with stabilization off")

	fs.BoolVar(&o.window, "window", true, "Show the output in a window")
	fs.StringVar(&o.output, "output", "", "Record the output to this file")
	fs.StringVar(&o.codec, "codec", "mp4v", "FourCC codec for -output")

	fs.BoolVar(&o.serve, "serve", false, "Run the control and telemetry server")
	fs.StringVar(&o.port, "port", config.WebPort(), "Control server port")
	fs.DurationVar(&o.preview, "preview-interval", 100*time.Millisecond, "Minimum interval between websocket preview frames")

	fs.StringVar(&o.logLevel, "log-level", config.LogLevel(), "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "", "Log format: text, json (default json when GO_ENV=production, else text)")
	err := fs.Parse(args)
	return o, err
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	log.Init(o.logLevel, o.logFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, o); err != nil {
		log.Error("stabilize failed", "error", err)
		os.Exit(1)
	}
}

// buildConfig resolves preset, file and flags, in that order.
func buildConfig(o options) (stabilizer.Config, error) {
	base, err := config.Preset(o.preset)
	if err != nil {
		return base, err
	}
	cfg, err := config.LoadStabilizer(o.configPath, base)
	if err != nil {
		return cfg, err
	}

	cfg.Backend = o.backend
	if o.downSample > 0 {
		cfg.DownSample = o.downSample
	}
	if o.zoom > 0 {
		cfg.ZoomFactor = o.zoom
	}
	cfg.MaskEnabled = cfg.MaskEnabled || o.mask
	cfg.ShowROI = cfg.ShowROI || o.showROI
	cfg.ShowTrackingPoints = cfg.ShowTrackingPoints || o.showPoints
	cfg.ShowUnstabilized = cfg.ShowUnstabilized || o.showRaw
	if o.disabled {
		cfg.Enabled = false
	}
	return cfg, cfg.Validate()
}

func openSource(ctx context.Context, o options) (video.Source, error) {
	switch {
	case o.webrtc != "":
		cfg := video.DefaultWebRTCConfig(o.webrtc)
		if hasPort(o.webrtc) {
			cfg.SignallingURL = "ws://" + o.webrtc
		}
		cfg.Producer = o.producer
		cfg.FrameSize = image.Pt(o.width, o.height)
		return video.DialWebRTC(ctx, cfg)
	case o.input != "":
		return video.OpenCapture(o.input)
	default:
		return nil, errors.New("one of -input or -webrtc is required")
	}
}

func hasPort(host string) bool {
	for i := len(host) - 1; i >= 0; i-- {
		switch host[i] {
		case ':':
			return true
		case ']', '.':
			return false
		}
	}
	return false
}

func run(ctx context.Context, o options) error {
	cfg, err := buildConfig(o)
	if err != nil {
		return err
	}

	engine, err := stabilizer.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	src, err := openSource(ctx, o)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	var sinks video.MultiSink
	var server *web.Server
	if o.serve {
		server = web.NewServer(web.Config{Port: o.port, StatusInterval: 200 * time.Millisecond}, engine)
		sinks = append(sinks, video.NewPreviewSink(server.PreviewHub(), o.preview, 70, 640))
	}
	if o.output != "" {
		fps := 30.0
		if c, ok := src.(*video.CaptureSource); ok && c.FPS() > 0 {
			fps = c.FPS()
		}
		sinks = append(sinks, video.NewFileSink(o.output, o.codec, fps))
	}

	var win, rawWin *video.WindowSink
	if o.window {
		win = video.NewWindowSink("Stabilized")
		sinks = append(sinks, win)
		if cfg.ShowUnstabilized {
			rawWin = video.NewWindowSink("Unstabilized ROI")
			defer rawWin.Close()
		}
	}
	if len(sinks) == 0 {
		return errors.New("no output: enable -window, -output or -serve")
	}
	defer sinks.Close()

	runner := stream.NewRunner(src, engine, sinks)
	if win != nil {
		win.OnKey = func(key int) {
			if cmd, ok := stream.KeyCommand(key); ok && cmd != stream.CmdQuit {
				runner.Send(cmd)
			}
		}
	}
	if server != nil {
		server.OnCommand = func(action string) {
			switch action {
			case "toggle":
				runner.Send(stream.CmdToggle)
			case "enable":
				runner.Send(stream.CmdEnable)
			case "disable":
				runner.Send(stream.CmdDisable)
			}
		}
	}

	var lastTitle time.Time
	runner.OnFrame = func(st stabilizer.Stats) {
		if rawWin != nil {
			view := engine.ROIView()
			if !view.Empty() {
				rawWin.Write(view)
			}
			view.Close()
		}
		if win != nil && time.Since(lastTitle) > time.Second {
			lastTitle = time.Now()
			state := "on"
			if !st.Enabled {
				state = "off"
			}
			win.SetTitle(fmt.Sprintf("Stabilized [%s] %.1f fps", state, st.FPS))
		}
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	serverErr := make(chan error, 1)
	if server != nil {
		go func() {
			err := server.Run(runCtx)
			if err != nil {
				stop()
			}
			serverErr <- err
		}()
	} else {
		serverErr <- nil
	}

	// The window must be driven from this goroutine.
	err = runner.Run(runCtx)
	stop()
	if serr := <-serverErr; serr != nil && (err == nil || errors.Is(err, context.Canceled)) {
		err = serr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
