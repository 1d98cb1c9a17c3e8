package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
	// ActionFinalize is the client countdown saying it observed zero
	// remaining time. The server re-checks the stored deadline before
	// honoring it; the client is advisory only.
	ActionFinalize Action = "finalize"
)

// RequestPayload is a client message on the countdown stream.
type RequestPayload struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick      Event = "tick"
	EventFinalized Event = "finalized"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// TickResponse carries the server-computed remaining seconds.
type TickResponse struct {
	Event            Event   `json:"event"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// FinalizedResponse announces the terminal state once the attempt closes.
type FinalizedResponse struct {
	Event  Event    `json:"event"`
	Status string   `json:"status"`
	Score  *float64 `json:"score,omitempty"`
	Passed *bool    `json:"passed,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
