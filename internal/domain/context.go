package domain

import "strings"

// RequestContext carries the caller identity into every core operation.
type RequestContext struct {
	UserID  string
	IsGuest bool
}

// GuestContext is used when the request carries no identity.
func GuestContext() RequestContext {
	return RequestContext{UserID: DefaultUserID, IsGuest: true}
}

// Normalize fills the sentinel user id when none is set.
func (rc RequestContext) Normalize() RequestContext {
	rc.UserID = strings.TrimSpace(rc.UserID)
	if rc.UserID == "" {
		rc.UserID = DefaultUserID
		rc.IsGuest = true
	}
	return rc
}
