package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigitParsesNumericCommands(t *testing.T) {
	d, ok := Digit('5')
	require.True(t, ok)
	assert.Equal(t, 5, d)

	_, ok = Digit('q')
	assert.False(t, ok)
}

func TestRouterDispatchesRegisteredHandler(t *testing.T) {
	var called bool
	r := NewRouter(nil, nil, nil)
	r.Handle(CmdQuit, func() { called = true })

	r.Dispatch(CmdQuit)
	assert.True(t, called)
}

func TestRouterTwoStepChannelChange(t *testing.T) {
	var selected int = -1
	r := NewRouter(nil, nil, func(ch int) { selected = ch })

	r.Dispatch(CmdChangeChannel)
	r.Dispatch('3')

	assert.Equal(t, 2, selected) // 0-based
}

func TestRouterTwoStepChannelChangeZeroCancels(t *testing.T) {
	selected := -1
	r := NewRouter(nil, nil, func(ch int) { selected = ch })

	r.Dispatch(CmdChangeChannel)
	r.Dispatch('0')

	assert.Equal(t, -1, selected)
}

func TestRouterDirectDigitOnlyActsWhileChannelActive(t *testing.T) {
	selected := -1
	active := false
	r := NewRouter(nil, func() bool { return active }, func(ch int) { selected = ch })

	r.Dispatch('4')
	assert.Equal(t, -1, selected, "digit select must be ignored while VU/Monitor are not running")

	active = true
	r.Dispatch('4')
	assert.Equal(t, 3, selected)
}

func TestRouterRunConsumesCommandsUntilContextCancelled(t *testing.T) {
	ch := make(chan Command, 1)
	src := &fakeSource{ch: ch}
	var called bool
	r := NewRouter(nil, nil, nil)
	r.Handle(CmdHelp, func() { called = true })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, src)
		close(done)
	}()

	ch <- CmdHelp
	time.Sleep(50 * time.Millisecond)
	assert.True(t, called)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

type fakeSource struct {
	ch chan Command
}

func (f *fakeSource) Commands() <-chan Command { return f.ch }
func (f *fakeSource) Close()                   { close(f.ch) }
