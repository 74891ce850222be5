package button

// State is the debouncer state.
type State int

const (
	Idle State = iota
	Pressed
)

func (s State) String() string {
	if s == Pressed {
		return "pressed"
	}
	return "idle"
}

// Debouncer detects presses from periodic raw pin reads.
//
// A press is confirmed when two consecutive samples are asserted while idle.
// Any level change while pressed returns to idle. Inverted flips the raw
// level before the state machine sees it, for active-low buttons.
//
// A Debouncer is owned by one sampling task and is not safe for concurrent use.
type Debouncer struct {
	inverted bool
	state    State
	last     bool
}

// NewDebouncer creates an idle debouncer.
func NewDebouncer(inverted bool) *Debouncer {
	return &Debouncer{inverted: inverted}
}

// Feed consumes one raw sample and reports whether it completed a press.
func (d *Debouncer) Feed(raw bool) bool {
	level := raw != d.inverted
	pressed := false

	switch d.state {
	case Idle:
		if level && d.last {
			d.state = Pressed
			pressed = true
		}
	case Pressed:
		if level != d.last {
			d.state = Idle
		}
	}
	d.last = level
	return pressed
}

// State returns the current state.
func (d *Debouncer) State() State {
	return d.state
}
