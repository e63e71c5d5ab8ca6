// Stabctl - command line client for the stabilizer control server
//
// Usage:
//
//	stabctl [-server URL] status|config|toggle|enable|disable|watch
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-stabilizer/internal/config"
	"github.com/teslashibe/go-stabilizer/internal/httpc"
	"github.com/teslashibe/go-stabilizer/pkg/stabilizer"
	"github.com/teslashibe/go-stabilizer/pkg/web"
)

func main() {
	server := flag.String("server", config.ServerURL(), "Control server URL")
	raw := flag.Bool("json", false, "Print raw JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: stabctl [flags] status|config|toggle|enable|disable|watch\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := &client{base: strings.TrimRight(*server, "/"), out: os.Stdout, raw: *raw}
	if err := c.run(ctx, flag.Arg(0)); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "stabctl: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
	out  io.Writer
	raw  bool
}

func (c *client) run(ctx context.Context, cmd string) error {
	switch cmd {
	case "status":
		var st stabilizer.Stats
		if err := httpc.GetJSON(ctx, nil, c.base+"/api/status", &st); err != nil {
			return err
		}
		return c.printStats(st)
	case "config":
		var cfg stabilizer.Config
		if err := httpc.GetJSON(ctx, nil, c.base+"/api/config", &cfg); err != nil {
			return err
		}
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	case "toggle", "enable", "disable":
		var resp web.EnabledResponse
		if err := httpc.PostJSON(ctx, nil, c.base+"/api/"+cmd, nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "stabilization %s\n", onOff(resp.Enabled))
		return nil
	case "watch":
		return c.watch(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (c *client) printStats(st stabilizer.Stats) error {
	if c.raw {
		return json.NewEncoder(c.out).Encode(st)
	}
	fmt.Fprintf(c.out, "%-8s %-6s %-3s frames=%d points=%d motion=%s dx=%+.2f dy=%+.2f da=%+.4f gain=%.3f atten=%.1f fps=%.1f\n",
		shortID(st.Session), st.State, onOff(st.Enabled), st.Frames, st.TrackedPoints, st.MotionSource,
		st.Raw.DX, st.Raw.DY, st.Raw.DA, st.Gain[stabilizer.AxisX], st.Attenuation, st.FPS)
	return nil
}

// watch prints every stats update pushed on /ws/status.
func (c *client) watch(ctx context.Context) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/status"

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", u, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read status: %w", err)
		}
		var st stabilizer.Stats
		if err := json.Unmarshal(data, &st); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		if err := c.printStats(st); err != nil {
			return err
		}
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
