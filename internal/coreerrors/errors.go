// Package coreerrors defines a typed error taxonomy for the wire protocol's
// named failure reasons. The dispatcher's handlers do not use it; they send
// their error events directly.
package coreerrors

import "errors"

// Class categorizes an error for logging and propagation policy.
type Class int

const (
	// ClassClientProtocol covers rate-limited, malformed, or missing-field
	// requests. Reply with a typed event; never close the connection except
	// on gross abuse.
	ClassClientProtocol Class = iota
	// ClassClientSemantic covers well-formed requests that are invalid given
	// current room state. State is left unchanged.
	ClassClientSemantic
	// ClassTransient covers degraded external dependencies (persistence,
	// AI oracle). Callers must degrade silently and continue on local truth.
	ClassTransient
	// ClassFatal covers conditions that require graceful shutdown.
	ClassFatal
)

// CoreError is a typed outcome carrying the wire event name the dispatcher
// emits to the submitter (or, for some classes, broadcasts).
type CoreError struct {
	Class Class
	Event string // wire event name, e.g. "wordTooShort"
	Msg   string
	Err   error // wrapped cause, may be nil
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *CoreError) Unwrap() error { return e.Err }

func newSemantic(event, msg string) *CoreError {
	return &CoreError{Class: ClassClientSemantic, Event: event, Msg: msg}
}

// ClientSemantic sentinel constructors, one per named outcome in the
// distilled spec's error taxonomy.
var (
	ErrInvalidGameCode  = newSemantic("invalidGameCode", "game code must be 4 characters")
	ErrRoomNotFound     = newSemantic("roomNotFound", "room does not exist")
	ErrCodeInUse        = newSemantic("codeInUse", "room code already in use")
	ErrRoomFull         = newSemantic("roomFull", "room is full")
	ErrUsernameRequired = newSemantic("usernameRequired", "a display name is required")
	ErrNotInGame        = newSemantic("notInGame", "participant is not in this room")
	ErrOnlyHostCanStart = newSemantic("onlyHostCanStart", "only the host can start the round")
	ErrOnlyHostCanEnd   = newSemantic("onlyHostCanEnd", "only the host can end the round")
	ErrGameNotInProgress = newSemantic("gameNotInProgress", "round is not in progress")
	ErrLateJoinBlocked  = newSemantic("lateJoinBlocked", "late joins are disabled for this room")
	ErrAlreadyFound     = newSemantic("alreadyFound", "word already submitted")
	ErrNotOnBoard       = newSemantic("notOnBoard", "word is not traceable on the board")
	ErrWordTooShort     = newSemantic("wordTooShort", "word is shorter than the minimum length")
	ErrInappropriateWord = newSemantic("rejected", "word failed the profanity filter")
)

// Transient wraps a degraded-dependency error (persistence unavailable, AI
// oracle timeout). Callers log it and continue; it must never abort a
// handler's local-state effects.
func Transient(msg string, cause error) *CoreError {
	return &CoreError{Class: ClassTransient, Event: "warning", Msg: msg, Err: cause}
}

// Fatal wraps a condition that requires graceful shutdown.
func Fatal(msg string, cause error) *CoreError {
	return &CoreError{Class: ClassFatal, Event: "serverShutdown", Msg: msg, Err: cause}
}

// Protocol wraps a malformed-request error.
func Protocol(event, msg string) *CoreError {
	return &CoreError{Class: ClassClientProtocol, Event: event, Msg: msg}
}

// As is a thin wrapper over errors.As for callers that don't want to import
// both packages.
func As(err error) (*CoreError, bool) {
	var ce *CoreError
	ok := errors.As(err, &ce)
	return ce, ok
}
