package stream

import "github.com/teslashibe/go-stabilizer/pkg/video"

// Command is a runtime instruction for a running pipeline.
type Command int

const (
	// CmdToggle flips stabilization on or off.
	CmdToggle Command = iota + 1
	// CmdEnable turns stabilization on.
	CmdEnable
	// CmdDisable turns stabilization off.
	CmdDisable
	// CmdQuit stops the pipeline after the current frame.
	CmdQuit
)

func (c Command) String() string {
	switch c {
	case CmdToggle:
		return "toggle"
	case CmdEnable:
		return "enable"
	case CmdDisable:
		return "disable"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// KeyCommand maps a preview window key to a command: s toggles, q and ESC
// quit.
func KeyCommand(key int) (Command, bool) {
	switch key {
	case video.KeyToggle, 'S':
		return CmdToggle, true
	}
	if video.IsQuitKey(key) {
		return CmdQuit, true
	}
	return 0, false
}
