package rbac

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/odyssey-erp/stockcount/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Store is the persistence surface the Service needs.
type Store interface {
	UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
	UpsertRole(ctx context.Context, name, description string) (Role, error)
	AttachPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) error
}

// Service orchestrates RBAC operations.
type Service struct {
	store Store
}

// NewService constructs a Service backed by the provided store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// DefaultRoles lists the roles seeded for stock counting.
func DefaultRoles() []RoleTemplate {
	return []RoleTemplate{
		{Name: "Administrator", Description: "Full access", Permissions: append([]string{shared.PermSystemAdmin, shared.PermInventoryManage}, shared.StockCountScopes()...)},
		{Name: "Inventory Manager", Description: "Sees every count session", Permissions: append([]string{shared.PermInventoryManage}, shared.StockCountScopes()...)},
		{Name: "Finance Manager", Description: "Approves variance reports", Permissions: []string{shared.PermStockCountView, shared.PermStockCountApprove}},
		{Name: "Counter", Description: "Counts stock on assigned sessions", Permissions: []string{shared.PermStockCountView, shared.PermStockCountEdit}},
	}
}

// Seed ensures the default roles and their permissions exist.
func (s *Service) Seed(ctx context.Context, roles []RoleTemplate) error {
	ids := make(map[string]int64)
	for _, tpl := range roles {
		role, err := s.store.UpsertRole(ctx, tpl.Name, tpl.Description)
		if err != nil {
			return fmt.Errorf("rbac: seed role %s: %w", tpl.Name, err)
		}
		for _, name := range tpl.Permissions {
			id, ok := ids[name]
			if !ok {
				perm, err := s.store.UpsertPermission(ctx, name, name)
				if err != nil {
					return fmt.Errorf("rbac: seed permission %s: %w", name, err)
				}
				id = perm.ID
				ids[name] = id
			}
			if err := s.store.AttachPermission(ctx, role.ID, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignRole assigns a role to the given user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	return s.store.AssignRole(ctx, userID, roleID)
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.store.UserEffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	perms := make([]string, 0, len(rows))
	for _, p := range rows {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && !slices.Contains(perms, p) {
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// IsSystemAdmin reports whether the user holds the system administrator permission.
func (s *Service) IsSystemAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.has(ctx, userID, shared.PermSystemAdmin)
}

// IsInventoryManager reports whether the user holds the inventory manager permission.
func (s *Service) IsInventoryManager(ctx context.Context, userID int64) (bool, error) {
	return s.has(ctx, userID, shared.PermInventoryManage)
}

func (s *Service) has(ctx context.Context, userID int64, perm string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return hasAnyPermission(granted, []string{perm}), nil
}
