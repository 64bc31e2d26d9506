package domain

// InteractionState is where an item is in its editing lifecycle.
type InteractionState string

const (
	StateIdle     InteractionState = "idle"
	StateSelected InteractionState = "selected"
	StateDragging InteractionState = "dragging"
	StateResizing InteractionState = "resizing"
	StateRemoved  InteractionState = "removed"
)

// Interaction tracks the pointer lifecycle of an editor session. At most one
// item is active; removed ids can never become active again.
type Interaction struct {
	state   InteractionState
	item    ItemID
	removed map[ItemID]bool
}

func NewInteraction() *Interaction {
	return &Interaction{state: StateIdle, removed: make(map[ItemID]bool)}
}

func (in *Interaction) State() InteractionState {
	return in.state
}

// Active returns the item the session is working on, if any.
func (in *Interaction) Active() (ItemID, bool) {
	if in.state == StateIdle {
		return "", false
	}
	return in.item, true
}

// ItemState reports the lifecycle state of a single item.
func (in *Interaction) ItemState(id ItemID) InteractionState {
	if in.removed[id] {
		return StateRemoved
	}
	if in.state != StateIdle && in.item == id {
		return in.state
	}
	return StateIdle
}

// PointerDown selects id. Switching selection mid-gesture is not allowed.
func (in *Interaction) PointerDown(id ItemID) error {
	if in.removed[id] {
		return ErrItemRemoved
	}
	switch in.state {
	case StateIdle, StateSelected:
		in.state = StateSelected
		in.item = id
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (in *Interaction) BeginDrag() error {
	return in.begin(StateDragging)
}

func (in *Interaction) BeginResize() error {
	return in.begin(StateResizing)
}

func (in *Interaction) begin(next InteractionState) error {
	if in.state != StateSelected {
		return ErrInvalidTransition
	}
	in.state = next
	return nil
}

// End finishes a drag or resize and returns the item whose update must be
// committed together with the gesture that ended.
func (in *Interaction) End() (ItemID, InteractionState, error) {
	switch in.state {
	case StateDragging, StateResizing:
		gesture := in.state
		in.state = StateSelected
		return in.item, gesture, nil
	default:
		return "", in.state, ErrInvalidTransition
	}
}

// Background handles a click on the empty container.
func (in *Interaction) Background() {
	in.state = StateIdle
	in.item = ""
}

// Remove marks id as removed. If it was active the session returns to idle.
func (in *Interaction) Remove(id ItemID) {
	in.removed[id] = true
	if in.item == id {
		in.Background()
	}
}

// Forget drops the active item without marking it removed, used when a
// snapshot no longer contains it.
func (in *Interaction) Forget(id ItemID) {
	if in.item == id {
		in.Background()
	}
}
