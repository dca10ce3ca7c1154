package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hugo-lorenzo-mato/marketflow/internal/events"
)

// EventMsg carries one bus event into the Bubbletea loop.
type EventMsg struct {
	Event events.Event
}

// busClosedMsg signals that no more events will arrive.
type busClosedMsg struct{}

// EventBusAdapter forwards the events of one run to the view. It uses a
// priority subscription so terminal events are never lost.
type EventBusAdapter struct {
	bus   *events.EventBus
	runID string
	in    <-chan events.Event
	out   chan tea.Msg
	done  chan struct{}
	once  sync.Once
}

// NewEventBusAdapter subscribes to bus and keeps events of runID.
func NewEventBusAdapter(bus *events.EventBus, runID string) *EventBusAdapter {
	a := &EventBusAdapter{
		bus:   bus,
		runID: runID,
		in: bus.SubscribePriority(
			events.TypeRunStarted,
			events.TypeAgentDispatched,
			events.TypeAgentSucceeded,
			events.TypeAgentRetrying,
			events.TypeAgentFailed,
			events.TypeAgentAborted,
			events.TypeRunFinished,
		),
		out:  make(chan tea.Msg, 64),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *EventBusAdapter) run() {
	defer close(a.out)
	for {
		select {
		case <-a.done:
			return
		case e, ok := <-a.in:
			if !ok {
				return
			}
			if e.RunID() != a.runID {
				continue
			}
			select {
			case a.out <- EventMsg{Event: e}:
			case <-a.done:
				return
			}
		}
	}
}

// Wait returns a command that blocks until the next event.
func (a *EventBusAdapter) Wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-a.out
		if !ok {
			return busClosedMsg{}
		}
		return msg
	}
}

// Close stops forwarding and releases the subscription.
func (a *EventBusAdapter) Close() {
	a.once.Do(func() {
		close(a.done)
		// Drain so a blocked Publish can release the bus lock.
		go func() {
			for range a.in {
			}
		}()
		a.bus.Unsubscribe(a.in)
	})
}
