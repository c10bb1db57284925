package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidSignal = errors.New("invalid signal")
	ErrInvalidSize   = errors.New("invalid contract size")
	ErrRiskRejected  = errors.New("risk order rejected")
	ErrNoContracts   = errors.New("no open contracts")
	ErrNoSpec        = errors.New("contract spec unavailable")
	ErrSlotBusy      = errors.New("position slot busy")
	ErrDuplicate     = errors.New("duplicate signal")
	ErrStaleSignal   = errors.New("stale signal")
	ErrBlacklisted   = errors.New("symbol blacklisted")
)
