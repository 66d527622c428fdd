package portfolio

import "errors"

var (
	// ErrInsufficientBalance means the margin or cost exceeds free balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientHoldings means a spot sell exceeds the held amount.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrPositionNotFound means no open position has the given id.
	ErrPositionNotFound = errors.New("position not found")
	// ErrInvalidOrder covers non-positive amounts or prices and leverage < 1.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrRiskLimit means the order breaks a configured RiskLimits bound.
	ErrRiskLimit = errors.New("risk limit exceeded")
	// ErrSessionNotFound means the registry has no simulator for the id.
	ErrSessionNotFound = errors.New("session not found")
)
