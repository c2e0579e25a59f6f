package session

// State is a session lifecycle phase. States only move forward, except for
// the Sending ⇄ AwaitingIdle loop.
type State int32

const (
	Connecting State = iota
	Open
	Sending
	AwaitingIdle
	Closing
	Closed
	Failed
)

var stateNames = [...]string{
	Connecting:   "connecting",
	Open:         "open",
	Sending:      "sending",
	AwaitingIdle: "awaiting_idle",
	Closing:      "closing",
	Closed:       "closed",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
