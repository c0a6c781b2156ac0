package services

import (
	"errors"
	"fmt"

	"github.com/cloudstorm/backend/pkg/utils"
)

var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyMember      = errors.New("user is already a member")
	ErrAlreadyProcessing  = errors.New("file is already being processed")
	ErrQuotaExceeded      = errors.New("group storage quota exceeded")
	ErrInvalidInput       = errors.New("invalid input")

	ErrEncryptionNotConfigured = utils.ErrEncryptionNotConfigured
)

// DeniedError carries a Deny verdict through error-returning flows.
type DeniedError struct {
	Verdict Verdict
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %s", e.Verdict.Reason)
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
