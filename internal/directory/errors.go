// errors.go defines the typed error returned by directory adapters and the stable codes the
// invitation service uses to tell expected state conflicts from unknown failures.
package directory

import (
	"errors"
	"fmt"
)

// Error codes reported by the provider. Codes outside this list are treated as unknown.
const (
	CodeAlreadyMember          = "user_already_organization_member"
	CodeInviteAlreadyAccepted  = "invite_already_accepted"
	CodeInviteNotPending       = "invite_not_pending"
	CodeInviteExpired          = "invite_expired"
	CodeExternalKeyAlreadyUsed = "external_id_already_used"
	CodeEmailAlreadyInvited    = "email_already_invited_to_organization"
	CodeNotFound               = "entity_not_found"
)

var stateConflictCodes = map[string]bool{
	CodeAlreadyMember:          true,
	CodeInviteAlreadyAccepted:  true,
	CodeInviteNotPending:       true,
	CodeInviteExpired:          true,
	CodeExternalKeyAlreadyUsed: true,
	CodeEmailAlreadyInvited:    true,
}

// ErrNotConfigured is returned by a client built without credentials.
var ErrNotConfigured = errors.New("directory provider not configured")

// Error is a failed directory call. StatusCode is 0 when the request never got a response.
type Error struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("directory %s failed", e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the provider code carried by err, or "" if err is not a directory error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsStateConflict reports whether err is a provider-side state conflict such as the invitee
// already being a member. These are expected under concurrency and are not failures.
func IsStateConflict(err error) bool {
	return stateConflictCodes[CodeOf(err)]
}

// IsExternalKeyConflict reports whether an organization with the requested external key
// already exists.
func IsExternalKeyConflict(err error) bool {
	return CodeOf(err) == CodeExternalKeyAlreadyUsed
}
