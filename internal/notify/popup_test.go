package notify

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNotifyAndDismiss(t *testing.T) {
	n := New(zerolog.Nop())
	assert.False(t, n.Current().Visible)

	n.Notify("Uploading image...", IconUpload, 0)
	p := n.Current()
	assert.True(t, p.Visible)
	assert.Equal(t, "Uploading image...", p.Message)
	assert.Equal(t, IconUpload, p.Icon)

	n.Dismiss()
	assert.False(t, n.Current().Visible)
	n.Dismiss()
	assert.Equal(t, Popup{}, n.Current())
}

func TestNotifyReplacesCurrent(t *testing.T) {
	n := New(zerolog.Nop())
	n.Notify("Uploading image...", IconUpload, 0)
	n.Notify("Analyzing image...", IconAnalyzing, 0)

	p := n.Current()
	assert.Equal(t, "Analyzing image...", p.Message)
	assert.Equal(t, IconAnalyzing, p.Icon)
}

func TestAutoDismiss(t *testing.T) {
	n := New(zerolog.Nop())
	n.Notify("Search complete!", IconSuccess, 10*time.Millisecond)
	assert.True(t, n.Current().Visible)

	assert.Eventually(t, func() bool { return !n.Current().Visible }, time.Second, 5*time.Millisecond)
}

func TestStaleTimerKeepsNewerMessage(t *testing.T) {
	n := New(zerolog.Nop())
	n.Notify("old", IconSuccess, 20*time.Millisecond)
	n.Notify("new", IconWait, 0)

	time.Sleep(60 * time.Millisecond)
	p := n.Current()
	assert.True(t, p.Visible)
	assert.Equal(t, "new", p.Message)
}
