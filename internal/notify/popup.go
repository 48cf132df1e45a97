// Package notify holds the single status popup shown to the user.
package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	IconUpload    = "📤"
	IconAnalyzing = "🔎"
	IconSuccess   = "✅"
	IconFailure   = "❌"
	IconWait      = "⏳"
	IconAlert     = "⚠️"
)

// Popup is a snapshot of the modal state.
type Popup struct {
	Visible bool      `json:"visible"`
	Message string    `json:"message,omitempty"`
	Icon    string    `json:"icon,omitempty"`
	ShownAt time.Time `json:"shownAt,omitempty"`
}

// Notifier shows and dismisses one popup at a time. A newer message replaces
// the current one, and a pending auto-dismiss only ever hides the message it
// was scheduled for.
type Notifier struct {
	mu    sync.Mutex
	state Popup
	gen   uint64
	timer *time.Timer
	log   zerolog.Logger
	now   func() time.Time
}

func New(log zerolog.Logger) *Notifier {
	return &Notifier{
		log: log.With().Str("component", "popup").Logger(),
		now: time.Now,
	}
}

// Notify shows message with icon. A positive autoDismissAfter hides it later
// without blocking the caller.
func (n *Notifier) Notify(message, icon string, autoDismissAfter time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.stopTimerLocked()
	n.gen++
	n.state = Popup{Visible: true, Message: message, Icon: icon, ShownAt: n.now().UTC()}
	n.log.Debug().Str("message", message).Str("icon", icon).Dur("auto_dismiss", autoDismissAfter).Msg("popup shown")

	if autoDismissAfter > 0 {
		gen := n.gen
		n.timer = time.AfterFunc(autoDismissAfter, func() {
			n.dismissGen(gen)
		})
	}
}

// Dismiss hides the popup. Calling it on a hidden popup does nothing.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dismissLocked()
}

// Current returns the popup as it is now.
func (n *Notifier) Current() Popup {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Notifier) dismissGen(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		return
	}
	n.dismissLocked()
}

func (n *Notifier) dismissLocked() {
	n.stopTimerLocked()
	if !n.state.Visible {
		return
	}
	n.state = Popup{}
	n.log.Debug().Msg("popup dismissed")
}

func (n *Notifier) stopTimerLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
