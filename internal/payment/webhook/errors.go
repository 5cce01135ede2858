package webhook

import "errors"

var (
	// ErrUserUnresolved fails the delivery so the processor redelivers it.
	ErrUserUnresolved = errors.New("user_unresolved")
	ErrPlanUnresolved = errors.New("plan_unresolved")
)
