// Package notify delivers short human-readable notifications.
package notify

import (
	"github.com/gen2brain/beeep"
	"gopkg.in/op/go-logging.v1"
)

// Sink accepts a notification. Delivery is fire-and-forget.
type Sink interface {
	Notify(text string)
}

// Func adapts a function to Sink.
type Func func(text string)

func (f Func) Notify(text string) { f(text) }

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(text string) {
	for _, s := range m {
		if s != nil {
			s.Notify(text)
		}
	}
}

// Discard ignores every notification.
var Discard Sink = Func(func(string) {})

// Desktop shows notifications through the OS notification service.
type Desktop struct {
	Title string
	Icon  string
	Log   *logging.Logger
}

func (d *Desktop) Notify(text string) {
	title := d.Title
	if title == "" {
		title = "heychat"
	}
	go func() {
		if err := beeep.Notify(title, text, d.Icon); err != nil && d.Log != nil {
			d.Log.Debugf("desktop notification failed: %v", err)
		}
	}()
}
