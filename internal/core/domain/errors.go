package domain

import "errors"

var (
	// ErrMalformedAction is reported when a response carries an action marker
	// but no decodable action object.
	ErrMalformedAction = errors.New("malformed action block")

	// ErrUnknownTool is returned when an action names a tool that is not registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool arguments fail the tool's schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrToolFailed wraps an error raised by a tool handler.
	ErrToolFailed = errors.New("tool failed")

	// ErrSourceFetch marks a single retrieval source that could not be fetched.
	ErrSourceFetch = errors.New("source fetch failed")

	// ErrBackendUnavailable is fatal for a run: the generation backend failed.
	ErrBackendUnavailable = errors.New("generation backend unavailable")

	// ErrMaxTurns is returned when a run exhausts its turn budget.
	ErrMaxTurns = errors.New("max turns reached without final answer")

	// ErrNoProgress is returned after too many consecutive turns without an action.
	ErrNoProgress = errors.New("model made no progress")

	ErrEmptyQuestion = errors.New("question is empty")

	ErrTraceNotFound = errors.New("trace not found")
)
