// Package cli defines BMAR's external-collaborator command interface
// (spec §1, §6): the single-character keyboard command surface that
// drives the recorder interactively. Interactive raw-mode terminal
// handling is explicitly out of BMAR's core (spec.md §1), so this
// package ships CommandSource, the Router that dispatches its commands
// to registered handlers, and a minimal non-interactive stdin
// implementation.
package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/charmbracelet/log"
)

// Command is one single-character command from §6's command surface.
type Command rune

// The command surface (§6): `h/?` help; `q` quit; `d` short device list;
// `D` detailed device list; `a` audio-overflow watch (10 s); `c` change
// monitor channel (then a digit, `0` cancels); `1..9` direct channel
// select (active only while VU or Monitor is running); `v` toggle VU;
// `i` toggle Monitor; `o` oscilloscope; `f` FFT; `s` spectrogram; `m`
// list mic positions; `t` list threads; `p` one-shot perf; `P` continuous
// perf; `^` toggle listener active.
const (
	CmdHelp               Command = 'h'
	CmdHelpAlt            Command = '?'
	CmdQuit               Command = 'q'
	CmdDeviceListShort    Command = 'd'
	CmdDeviceListDetailed Command = 'D'
	CmdOverflowWatch      Command = 'a'
	CmdChangeChannel      Command = 'c'
	CmdToggleVU           Command = 'v'
	CmdToggleMonitor      Command = 'i'
	CmdOscilloscope       Command = 'o'
	CmdFFT                Command = 'f'
	CmdSpectrogram        Command = 's'
	CmdListMicPositions   Command = 'm'
	CmdListThreads        Command = 't'
	CmdPerfOneShot        Command = 'p'
	CmdPerfContinuous     Command = 'P'
	CmdToggleListener     Command = '^'
)

// Digit reports the 0-9 value of cmd if it is a digit command.
func Digit(cmd Command) (int, bool) {
	if cmd >= '0' && cmd <= '9' {
		return int(cmd - '0'), true
	}
	return 0, false
}

// CommandSource is the external collaborator interface Router.Run
// consumes and dispatches commands from (§1, §6). Interactive terminal
// handling is the caller's concern; this package only defines the
// contract and a minimal stdin-backed implementation.
type CommandSource interface {
	Commands() <-chan Command
	Close()
}

// StdinCommandSource reads os.Stdin one rune at a time (spec §1: full
// terminal raw-mode handling is out of BMAR's core). Without raw mode the
// terminal driver still line-buffers, so commands in practice arrive
// after Enter; that limitation is inherited deliberately rather than
// worked around.
type StdinCommandSource struct {
	ch     chan Command
	cancel context.CancelFunc
}

// NewStdinCommandSource starts reading os.Stdin in a background goroutine.
func NewStdinCommandSource() *StdinCommandSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &StdinCommandSource{ch: make(chan Command, 16), cancel: cancel}
	go s.readLoop(ctx)
	return s
}

func (s *StdinCommandSource) readLoop(ctx context.Context) {
	defer close(s.ch)
	reader := bufio.NewReader(os.Stdin)
	for {
		r, _, err := reader.ReadRune()
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case s.ch <- Command(r):
		}
	}
}

// Commands returns the channel of commands read from stdin.
func (s *StdinCommandSource) Commands() <-chan Command { return s.ch }

// Close stops the read loop. The blocked ReadRune call itself is not
// interrupted (os.Stdin has no deadline support on all platforms); the
// goroutine exits on its next read once the process's stdin is closed.
func (s *StdinCommandSource) Close() { s.cancel() }

// Router dispatches commands from a CommandSource to registered handlers,
// implementing the two forms of channel selection from §6: the two-step
// `c` then digit (`0` cancels), and the direct `1..9` digit select that
// only takes effect while VU or Monitor is running.
type Router struct {
	logger               *log.Logger
	handlers             map[Command]func()
	awaitingChannelDigit bool
	channelActive        func() bool
	onChannelSelect      func(channel int)
}

// NewRouter constructs a Router. channelActive reports whether VU or
// Monitor is currently running, gating the direct digit commands (§6).
// onChannelSelect receives the 0-based channel chosen via either form.
func NewRouter(logger *log.Logger, channelActive func() bool, onChannelSelect func(channel int)) *Router {
	return &Router{
		logger:          logger,
		handlers:        make(map[Command]func()),
		channelActive:   channelActive,
		onChannelSelect: onChannelSelect,
	}
}

// Handle registers the action for a non-digit, non-channel-change
// command.
func (r *Router) Handle(cmd Command, fn func()) {
	r.handlers[cmd] = fn
}

// Dispatch routes one command. Exported so tests and callers with their
// own command source can drive it directly.
func (r *Router) Dispatch(cmd Command) {
	if r.awaitingChannelDigit {
		r.awaitingChannelDigit = false
		if cmd == '0' {
			return
		}
		if d, ok := Digit(cmd); ok && d >= 1 {
			r.onChannelSelect(d - 1)
		}
		return
	}

	if d, ok := Digit(cmd); ok {
		if d >= 1 && r.channelActive != nil && r.channelActive() {
			r.onChannelSelect(d - 1)
		}
		return
	}

	if cmd == CmdChangeChannel {
		r.awaitingChannelDigit = true
		return
	}

	if fn, ok := r.handlers[cmd]; ok {
		fn()
		return
	}
	if r.logger != nil {
		r.logger.Warn("cli: unrecognized command", "cmd", string(rune(cmd)))
	}
}

// Run consumes commands from src until ctx is cancelled or src's channel
// closes.
func (r *Router) Run(ctx context.Context, src CommandSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-src.Commands():
			if !ok {
				return
			}
			r.Dispatch(cmd)
		}
	}
}
