package domain

import "errors"

var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrInvalidLead   = errors.New("invalid lead")
	ErrQueueEmpty    = errors.New("queue is empty")
	ErrUnknownAction = errors.New("unknown action type")
	ErrNoPhone       = errors.New("lead has no phone number")
	ErrNoAddress     = errors.New("lead has no address on this channel")
)
