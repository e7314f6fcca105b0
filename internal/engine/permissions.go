package engine

import (
	"context"
	"strings"

	"shiftline/internal/domain"
)

// IsSuperadmin reports whether the profile holds superadmin rights, either
// via the persisted flag or because its handle matches the configured
// superadmin handle. Both sources are checked on every call, so a config
// change takes effect without touching stored profiles.
func (e Engine) IsSuperadmin(p domain.Profile) bool {
	if p.Superadmin {
		return true
	}
	if e.Config == nil {
		return false
	}
	handle := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(p.Handle), "@"))
	return handle != "" && handle == e.Config.NormalizedHandle()
}

// HasPermission reports whether the profile may act at the given minimum
// role. Superadmins pass every check regardless of their assigned role.
func (e Engine) HasPermission(p domain.Profile, minRole string) bool {
	if e.IsSuperadmin(p) {
		return true
	}
	return domain.RoleRank(p.Role) >= domain.RoleRank(minRole)
}

func (e Engine) requireRole(ctx context.Context, actorID, minRole string) (domain.Profile, error) {
	actor, err := e.Repo.GetProfile(ctx, actorID)
	if err != nil {
		return actor, err
	}
	if !e.HasPermission(actor, minRole) {
		return actor, ErrPermissionDenied
	}
	return actor, nil
}
