package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/stretchr/testify/assert"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerSuccess(t *testing.T) {
	out := &syncBuffer{}
	sp := newSpinner(out, "Joining standup...", spinner.Line, time.Millisecond)
	sp.Start()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Joining standup...")
	}, time.Second, time.Millisecond)

	sp.Success("Joined standup")
	assert.Contains(t, out.String(), "Joined standup")
}

func TestSpinnerStopTwice(t *testing.T) {
	out := &syncBuffer{}
	sp := newSpinner(out, "waiting", spinner.Line, time.Millisecond)
	sp.Start()

	sp.Stop()
	assert.NotPanics(t, sp.Stop)
}
