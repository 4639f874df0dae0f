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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRegistry(t *testing.T) {
	require.NoError(t, ValidateRegistry())
}

func TestIsAllowed_ExactMembership(t *testing.T) {
	tests := []struct {
		name       string
		role       Role
		permission Permission
		want       bool
	}{
		{"qa can approve capa", RoleQA, PermCAPAApprove, true},
		{"qa cannot create dcr", RoleQA, PermDCRCreate, false},
		{"engineer can create dcr", RoleEngineer, PermDCRCreate, true},
		{"engineer cannot approve capa", RoleEngineer, PermCAPAApprove, false},
		{"production is view only", RoleProduction, PermCAPACreate, false},
		{"production can view capa", RoleProduction, PermCAPAView, true},
		{"manager can approve dcr", RoleManager, PermDCRApprove, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAllowed(tt.role, tt.permission))
		})
	}
}

// Admin holds only the wildcard token, yet every check must pass.
func TestIsAllowed_Wildcard(t *testing.T) {
	all := []Permission{
		PermCAPACreate, PermCAPAUpdate, PermCAPAApprove, PermCAPAView,
		PermDCRCreate, PermDCRUpdate, PermDCRApprove, PermDCRView,
		PermDashboardView, PermReportsView,
		Permission("future:token"),
	}
	for _, p := range all {
		assert.True(t, IsAllowed(RoleAdmin, p), "admin must hold %s", p)
	}
}

// Permissions are independent tokens: holding the update token for a
// resource must not grant the view token unless it is separately listed.
func TestIsAllowed_NoImplicationAcrossTokens(t *testing.T) {
	// Engineer holds dcr:update but QA does not, and QA holds dcr:approve
	// without dcr:update. Approve must not leak into update.
	assert.True(t, IsAllowed(RoleQA, PermDCRApprove))
	assert.False(t, IsAllowed(RoleQA, PermDCRUpdate))

	// A synthetic role-free check: no role holds reports:view by holding
	// dashboard:view alone.
	assert.True(t, IsAllowed(RoleProduction, PermDashboardView))
	assert.False(t, IsAllowed(RoleProduction, PermReportsView))
}

func TestPermissionsFor_UnknownRoleIsEmpty(t *testing.T) {
	assert.Empty(t, PermissionsFor(Role("Contractor")))
	assert.False(t, IsAllowed(Role("Contractor"), PermCAPAView))
}
