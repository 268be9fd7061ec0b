package executor

import "errors"

// Domain errors surfaced in Result.Err. These never cause a log entry to
// be rejected — only the client-visible result reflects them.
var (
	ErrUserExists    = errors.New("username already registered")
	ErrUserNotFound  = errors.New("user not found")
	ErrAuctionClosed = errors.New("auction is closed")
	ErrBidTooLow     = errors.New("bid does not beat the minimum increment")
	ErrAuctionNotFound = errors.New("auction not found")
)
