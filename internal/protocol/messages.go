package protocol

// SUBSCRIBE (observer -> server). First message on the observer WS
// connection; may be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Optional: stream heights only every Nth tick (positions still come
	// every tick). 0 means every tick.
	HeightsEvery int `json:"heights_every,omitempty"`
}

// TICK (server -> observer). Sent once per engine tick. Crane is the
// interpolated hook position; observers must treat everything here as
// read-only display state.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Running   bool       `json:"running"`
	Crane     [3]float64 `json:"crane"`
	Attached  bool       `json:"attached"`
	ElapsedMs uint64     `json:"elapsed_ms,omitempty"`
	Cursor    int        `json:"cursor,omitempty"`
	Commands  int        `json:"commands,omitempty"`

	Heights [][]int `json:"heights,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	Size              [3]int `json:"size"`
	TickRateHz        int    `json:"tick_rate_hz"`
	MoveSpeed         int    `json:"move_speed"`
	AttachDetachSpeed int    `json:"attach_detach_speed"`
}

// Action ops accepted by PlanRequest.
const (
	OpMove   = "MOVE"
	OpAttach = "ATTACH"
	OpDetach = "DETACH"
	OpIdle   = "IDLE"
)

// PlanRequest (POST /v1/plan) is an ordered action list to be scheduled and
// executed as one timeline. The request blocks until the run finishes.
type PlanRequest struct {
	Actions []ActionReq `json:"actions"`
}

// ActionReq is one high-level action. It is decoded both from JSON plan
// submissions and from yaml plan files.
type ActionReq struct {
	Op         string  `json:"op" yaml:"op"`
	Pos        *[3]int `json:"pos,omitempty" yaml:"pos,omitempty"`
	DurationMs uint64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

type PlanResponse struct {
	RunID     string  `json:"run_id"`
	Reason    string  `json:"reason"`
	Commands  int     `json:"commands"`
	Executed  int     `json:"executed"`
	ElapsedMs uint64  `json:"elapsed_ms"`
	FailedAt  *[3]int `json:"failed_at,omitempty"`
}

// FillRequest (POST /v1/fill) replaces the warehouse stack heights.
// columns[x][z] is a stack height.
type FillRequest struct {
	Columns [][]int `json:"columns"`
}

// StateResponse (GET /v1/state) is the renderer-facing snapshot.
type StateResponse struct {
	Tick     uint64     `json:"tick"`
	Running  bool       `json:"running"`
	Crane    [3]float64 `json:"crane"`
	Attached bool       `json:"attached"`
	Heights  [][]int    `json:"heights"`
}

// ErrorResponse carries a code from errors.go plus a human message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
