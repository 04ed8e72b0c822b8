package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Market Data Errors
	ErrDataUnavailable  = errors.New("market data unavailable")
	ErrConnectionFailed = errors.New("failed to connect to the venue")
	ErrFeedUnhealthy    = errors.New("market data feed is unhealthy")

	// Execution Errors
	ErrRiskRejected                = errors.New("rejected by risk checks")
	ErrOrderPlacementFailed        = errors.New("failed to place order")
	ErrInsufficientFunds           = errors.New("insufficient funds for operation")
	ErrManualInterventionRequired  = errors.New("one leg filled without its hedge; manual intervention required")
	ErrExecutorNotConfigured       = errors.New("no executor configured for venue")
	ErrLiveExecutionNotImplemented = errors.New("live order execution is not available in this build")

	// Persistence Errors
	ErrQueryFailed  = errors.New("store query failed")
	ErrUpdateFailed = errors.New("store update failed")
)
