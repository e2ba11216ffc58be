package status

import (
	"sync"
	"time"

	"ideinfo/internal/engine"
	"ideinfo/internal/eventbus"
)

// WidgetState is the rendered version widget.
type WidgetState struct {
	Caption string       `json:"caption"`
	Visible bool         `json:"visible"`
	Style   engine.Style `json:"style"`
}

// Widget implements engine.Widget and publishes widget.changed on every
// effective change.
type Widget struct {
	bus eventbus.Bus

	mu    sync.Mutex
	state WidgetState
}

func NewWidget(bus eventbus.Bus) *Widget {
	return &Widget{bus: bus, state: WidgetState{Caption: "n/a", Style: engine.StyleNormal}}
}

func (w *Widget) State() WidgetState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Widget) SetCaption(c string) { w.update(func(s *WidgetState) { s.Caption = c }) }
func (w *Widget) SetVisible(v bool)   { w.update(func(s *WidgetState) { s.Visible = v }) }
func (w *Widget) SetStyle(st engine.Style) {
	w.update(func(s *WidgetState) { s.Style = st })
}

func (w *Widget) update(fn func(*WidgetState)) {
	w.mu.Lock()
	prev := w.state
	fn(&w.state)
	next := w.state
	w.mu.Unlock()
	if next == prev || w.bus == nil {
		return
	}
	w.bus.Publish(eventbus.Event{Type: eventbus.TopicWidgetChanged, Time: time.Now(), Data: next})
}
