package ir

import "fmt"

// InterruptKind is the closed set of interrupt operations.
type InterruptKind string

const (
	InterruptPause    InterruptKind = "pause"
	InterruptResume   InterruptKind = "resume"
	InterruptDrain    InterruptKind = "drain"
	InterruptThrottle InterruptKind = "throttle"
	InterruptIsolate  InterruptKind = "isolate"
)

// ScopeKind selects what an interrupt applies to.
type ScopeKind string

const (
	ScopeSlot  ScopeKind = "slot"
	ScopeBoard ScopeKind = "board"
	ScopeWire  ScopeKind = "wire"
)

// InterruptScope is the selector an interrupt operation targets.
// Wire scopes carry a match expression resolved against the current
// realized graph by an external resolver.
type InterruptScope struct {
	Kind  ScopeKind `json:"kind"`
	Board BoardID   `json:"board,omitempty"`
	Slot  SlotID    `json:"slot,omitempty"`
	// Match is a wire-selector expression (kind "wire" only).
	Match string `json:"match,omitempty"`
}

// Key returns the canonical map key for this scope.
func (s InterruptScope) Key() string {
	switch s.Kind {
	case ScopeSlot:
		return fmt.Sprintf("slot/%s/%s", s.Board, s.Slot)
	case ScopeBoard:
		return fmt.Sprintf("board/%s", s.Board)
	case ScopeWire:
		return fmt.Sprintf("wire/%s/%s", s.Board, s.Match)
	default:
		return fmt.Sprintf("unknown/%s", s.Kind)
	}
}

// InjectionPoint selects where a pause takes effect relative to the scope.
type InjectionPoint string

const (
	InjectUpstream   InjectionPoint = "upstream"
	InjectDownstream InjectionPoint = "downstream"
	InjectDomain     InjectionPoint = "domain"
	InjectRoute      InjectionPoint = "route"
)

// InterruptOp is one interrupt/backpressure operation, a tagged variant
// discriminated by Kind.
type InterruptOp struct {
	ID    string         `json:"id"`
	Kind  InterruptKind  `json:"kind"`
	Scope InterruptScope `json:"scope"`
	// Source identifies the requesting party. Pause contributions are
	// tracked per source; only the owning source's resume lowers them.
	Source string `json:"source"`

	// pause
	Level     string         `json:"level,omitempty"` // a lattice.PauseLevel name
	Injection InjectionPoint `json:"injection,omitempty"`

	// drain
	FenceID   string `json:"fence_id,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`

	// throttle: {"rps": Int, "burst": Int} - joined as a RateLimit value
	Rate Object `json:"rate,omitempty"`

	// isolate
	Sink string `json:"sink,omitempty"`
}

// Validate checks that the op carries the payload its kind requires.
func (op *InterruptOp) Validate() []ValidationError {
	var errs []ValidationError

	if op.ID == "" {
		errs = append(errs, ValidationError{Field: "id", Message: "op id is required"})
	}
	if op.Source == "" {
		errs = append(errs, ValidationError{Field: "source", Message: "source is required"})
	}
	switch op.Scope.Kind {
	case ScopeSlot:
		if op.Scope.Slot == "" {
			errs = append(errs, ValidationError{Field: "scope.slot", Message: "slot scope requires a slot id"})
		}
	case ScopeBoard:
		if op.Scope.Board == "" {
			errs = append(errs, ValidationError{Field: "scope.board", Message: "board scope requires a board id"})
		}
	case ScopeWire:
		if op.Scope.Match == "" {
			errs = append(errs, ValidationError{Field: "scope.match", Message: "wire scope requires a match expression"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "scope.kind",
			Message: fmt.Sprintf("unknown scope kind %q", op.Scope.Kind),
		})
	}

	switch op.Kind {
	case InterruptPause:
		if op.Level == "" {
			errs = append(errs, ValidationError{Field: "level", Message: "pause requires a level"})
		}
	case InterruptResume:
		// Source alone identifies what to resume.
	case InterruptDrain:
		// FenceID optional (one is minted if absent); timeout optional.
	case InterruptThrottle:
		if op.Rate == nil {
			errs = append(errs, ValidationError{Field: "rate", Message: "throttle requires a rate"})
		}
	case InterruptIsolate:
		// Sink optional; empty means the null sink.
	default:
		errs = append(errs, ValidationError{
			Field:   "kind",
			Message: fmt.Sprintf("unknown interrupt kind %q", op.Kind),
		})
	}

	return errs
}
