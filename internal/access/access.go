// Package access holds the single authorization rule shared by every
// mutating operation: a requester may act on a file if they own it or if
// they are the configured administrator.
package access

// Policy compares requester identities against one static admin identity.
type Policy struct {
	adminID string
}

// NewPolicy returns a policy for adminID. An empty adminID disables admin access.
func NewPolicy(adminID string) Policy {
	return Policy{adminID: adminID}
}

// AdminID returns the configured administrator identity.
func (p Policy) AdminID() string {
	return p.adminID
}

// IsAdmin reports whether requester is the administrator
func (p Policy) IsAdmin(requester string) bool {
	return p.adminID != "" && requester == p.adminID
}

// CanDelete reports whether requester may delete a file owned by owner.
func (p Policy) CanDelete(requester, owner string) bool {
	if p.IsAdmin(requester) {
		return true
	}
	return requester != "" && requester == owner
}
