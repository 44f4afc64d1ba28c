package protocol

// Run outcome reasons. A container failure is a normal (if notable)
// completion, not a transport error: the run halts and the reason says why.
const (
	ReasonCompleted    = "COMPLETED"
	ReasonAttachFailed = "E_ATTACH_FAILED"
	ReasonDetachFailed = "E_DETACH_FAILED"
)

// Control-surface error codes.
const (
	ErrBadRequest  = "E_BAD_REQUEST"
	ErrOutOfBounds = "E_OUT_OF_BOUNDS"
	ErrEngineBusy  = "E_ENGINE_BUSY"
	ErrEngineDown  = "E_ENGINE_DOWN"
	ErrInternal    = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ReasonCompleted:    {},
	ReasonAttachFailed: {},
	ReasonDetachFailed: {},
	ErrBadRequest:      {},
	ErrOutOfBounds:     {},
	ErrEngineBusy:      {},
	ErrEngineDown:      {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
