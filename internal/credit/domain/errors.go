package domain

import "errors"

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidField      = errors.New("invalid_balance_field")
	ErrInvalidLogType    = errors.New("invalid_credit_log_type")
	ErrInvalidAllocation = errors.New("invalid_allocation")
	ErrBalanceNotFound   = errors.New("balance_not_found")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
)
