package tenancy

import (
	"fmt"
	"regexp"
)

// maxTenantIDLen bounds tenant identifiers to UUID-sized strings.
const maxTenantIDLen = 64

// tenantRe validates tenant id format: lowercase hex, digits and hyphens,
// which covers the UUIDs the platform issues.
var tenantRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ActorResolver maps a caller identity (as established by the excluded
// authentication layer) to the membership id recorded in audit columns.
type ActorResolver interface {
	ResolveActor(tc Context) (string, error)
}

// MembershipActorResolver uses the membership id carried on the tenancy
// context itself. This is the production resolver: the API layer has
// already exchanged the session for a membership row.
type MembershipActorResolver struct{}

// ResolveActor returns the membership id from the context, or an error
// when the caller carries no membership (e.g. an unauthenticated job).
func (MembershipActorResolver) ResolveActor(tc Context) (string, error) {
	if tc.MembershipID == "" {
		return "", fmt.Errorf("tenancy context carries no membership id")
	}
	return tc.MembershipID, nil
}

// Validate checks that a tenancy context is usable by the core: a
// well-formed tenant id is always required; membership may be empty for
// read-only platform-admin calls.
func Validate(tc Context) error {
	if tc.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if len(tc.TenantID) > maxTenantIDLen {
		return fmt.Errorf("tenant id %q exceeds maximum length of %d characters", tc.TenantID, maxTenantIDLen)
	}
	if !tenantRe.MatchString(tc.TenantID) {
		return fmt.Errorf("tenant id %q is invalid: must consist of lowercase alphanumeric characters or hyphens", tc.TenantID)
	}
	return nil
}
