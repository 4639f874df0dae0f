// Copyright 2026 The QMS Portal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rbac

import "fmt"

// Permission is an atomic capability token of the form resource:action.
// The full set is fixed at deploy time; tokens are never minted at runtime.
// There is no hierarchy between tokens: holding capa:update does not imply
// capa:view. Callers must check the exact token they need.
type Permission string

const (
	PermCAPACreate  Permission = "capa:create"
	PermCAPAUpdate  Permission = "capa:update"
	PermCAPAApprove Permission = "capa:approve"
	PermCAPAView    Permission = "capa:view"

	PermDCRCreate  Permission = "dcr:create"
	PermDCRUpdate  Permission = "dcr:update"
	PermDCRApprove Permission = "dcr:approve"
	PermDCRView    Permission = "dcr:view"

	PermDashboardView Permission = "dashboard:view"
	PermReportsView   Permission = "reports:view"

	// PermWildcard grants every permission, including tokens added after
	// the holding role was defined.
	PermWildcard Permission = "*"
)

// rolePermissions is the immutable role grant table. Defined once at
// process start, validated by ValidateRegistry, never mutated.
var rolePermissions = map[Role][]Permission{
	RoleEngineer: {
		PermDCRCreate, PermDCRUpdate, PermDCRView,
		PermCAPAView, PermDashboardView,
	},
	RoleQA: {
		PermCAPACreate, PermCAPAUpdate, PermCAPAApprove, PermCAPAView,
		PermDCRApprove, PermDCRView,
		PermDashboardView, PermReportsView,
	},
	RoleProduction: {
		PermCAPAView, PermDCRView, PermDashboardView,
	},
	RoleManager: {
		PermCAPACreate, PermCAPAUpdate, PermCAPAApprove, PermCAPAView,
		PermDCRCreate, PermDCRUpdate, PermDCRApprove, PermDCRView,
		PermDashboardView, PermReportsView,
	},
	RoleAdmin: {
		PermWildcard,
	},
}

// PermissionsFor returns the grant set for a role. The returned slice is
// shared and must not be modified; callers treating it as a set should use
// IsAllowed instead.
func PermissionsFor(role Role) []Permission {
	return rolePermissions[role]
}

// IsAllowed reports whether role holds permission: exact token membership
// or the wildcard. No partial or prefix matching.
func IsAllowed(role Role, permission Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == PermWildcard || p == permission {
			return true
		}
	}
	return false
}

// ValidateRegistry checks the grant table against the closed role set.
// A role in the table outside AllRoles, or a role in AllRoles with no
// grant entry, is a configuration error. Call once at startup; failure
// is fatal there, not handled at request time.
func ValidateRegistry() error {
	for role := range rolePermissions {
		if !role.Valid() {
			return fmt.Errorf("rbac: unknown role %q in permission table", role)
		}
	}
	for _, role := range AllRoles {
		if _, ok := rolePermissions[role]; !ok {
			return fmt.Errorf("rbac: role %q has no permission entry", role)
		}
	}
	return nil
}
