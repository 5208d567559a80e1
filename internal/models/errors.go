package models

import "fmt"

// TaskNotFoundError is returned when a task ID does not exist.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// InvalidTransitionError is returned when a status change would move a task backwards
// or out of a terminal state.
type InvalidTransitionError struct {
	TaskID string
	From   TaskStatus
	To     TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s cannot move from %s to %s", e.TaskID, e.From, e.To)
}

// UserNotFoundError is returned when an account lookup misses.
type UserNotFoundError struct {
	Key string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found: %s", e.Key)
}

// InsufficientPointsError is returned when a charge exceeds the balance.
type InsufficientPointsError struct {
	UserID   int64
	Balance  int
	Required int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: balance %d, required %d", e.Balance, e.Required)
}

// BetaCodeReason explains why a beta code could not be redeemed
type BetaCodeReason string

const (
	BetaCodeNotFound    BetaCodeReason = "not_found"
	BetaCodeAlreadyUsed BetaCodeReason = "already_used"
	BetaCodeExpired     BetaCodeReason = "expired"
)

// BetaCodeError is returned when a redeem attempt is rejected.
type BetaCodeError struct {
	Code   string
	Reason BetaCodeReason
}

func (e *BetaCodeError) Error() string {
	switch e.Reason {
	case BetaCodeAlreadyUsed:
		return "beta code already used"
	case BetaCodeExpired:
		return "beta code expired"
	default:
		return "beta code not found"
	}
}

// InvalidInputError is returned when a request fails business validation.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}
