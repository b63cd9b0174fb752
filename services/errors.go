package services

import "errors"

// Shared errors used across services and the HTTP mapping layer.
var (
	// Not found
	ErrNotFound            = errors.New("requested resource not found")
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrParticipantNotFound = errors.New("participant registration not found")
	ErrMatchNotFound       = errors.New("match not found")
	ErrResultNotFound      = errors.New("match result not found")

	// Validation and business rules
	ErrValidationFailed          = errors.New("validation failed")
	ErrTournamentNameRequired    = errors.New("tournament name is required")
	ErrInvalidFormat             = errors.New("invalid tournament format")
	ErrInvalidSeedingStrategy    = errors.New("invalid seeding strategy")
	ErrInvalidCapacity           = errors.New("min participants must be at least 2 and not exceed max")
	ErrRegistrationNotOpen       = errors.New("tournament registration is not open")
	ErrTournamentFull            = errors.New("tournament registration is full")
	ErrBelowMinimumParticipants  = errors.New("not enough registered participants to start")
	ErrInsufficientParticipants  = errors.New("not enough participants to generate a bracket")
	ErrInvalidLifecycleState     = errors.New("operation not allowed in the current tournament state")
	ErrVoidReasonRequired        = errors.New("voiding a match requires a reason")
	ErrWithdrawNotAllowed        = errors.New("participant can no longer withdraw")

	// Conflicts
	ErrRegistrationConflict   = errors.New("entrant is already registered for this tournament")
	ErrTournamentNameConflict = errors.New("tournament name already exists")
	ErrStaleState             = errors.New("state changed concurrently, retry with fresh data")
	ErrResultAlreadyReported  = errors.New("match already has a pending result")
	ErrSessionAlreadyBound    = errors.New("match already has a bound game session")

	// Match state machine
	ErrMatchNotPlayable     = errors.New("match has no two resolved participants")
	ErrMatchStateConflict   = errors.New("operation not allowed in the current match state")
	ErrNotEligibleReporter  = errors.New("reporter is not a participant of this match or its organizer")
	ErrNotEligibleConfirmer = errors.New("only the opponent or the organizer can confirm a result")
	ErrInvalidWinnerSlot    = errors.New("winner slot must reference a resolved participant")

	// Authorization
	ErrForbiddenOperation = errors.New("operation not allowed for the current user")

	// External systems
	ErrSessionService = errors.New("game session service unavailable")
	ErrArchiveFailed  = errors.New("bracket archive upload failed")
)
