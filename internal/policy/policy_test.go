package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qmsportal/qmsportal/internal/rbac"
)

func TestAuthorize_DefaultTable(t *testing.T) {
	p := Default()

	tests := []struct {
		name string
		role rbac.Role
		path string
		want bool
	}{
		{"admin reaches admin", rbac.RoleAdmin, "/admin/settings", true},
		{"qa denied admin", rbac.RoleQA, "/admin", false},
		{"qa reaches capa", rbac.RoleQA, "/capa", true},
		{"production denied capa", rbac.RoleProduction, "/capa", false},
		{"engineer denied capa", rbac.RoleEngineer, "/capa/CAPA-1", false},
		{"engineer reaches dcr", rbac.RoleEngineer, "/dcr", true},
		{"qa denied dcr", rbac.RoleQA, "/dcr", false},
		{"production denied dashboard", rbac.RoleProduction, "/dashboard", false},
		{"qa reaches reports", rbac.RoleQA, "/reports/monthly", true},
		{"unmatched path is open", rbac.RoleProduction, "/health", true},
		{"unmatched path is open for unknown role", rbac.Role(""), "/about", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Authorize(tt.role, tt.path))
		})
	}
}

func TestProtected(t *testing.T) {
	p := Default()

	assert.True(t, p.Protected("/capa"))
	assert.True(t, p.Protected("/dcr/DCR-20260901-ABC123"))
	assert.True(t, p.Protected("/dashboard"))
	assert.False(t, p.Protected("/health"))
	assert.False(t, p.Protected("/auth/signin"))
}

// First matching prefix governs: a more specific rule listed first shadows
// a broader one below it.
func TestAuthorize_FirstMatchWins(t *testing.T) {
	p := New([]Rule{
		{Prefix: "/capa/archive", Roles: []rbac.Role{rbac.RoleAdmin}},
		{Prefix: "/capa", Roles: []rbac.Role{rbac.RoleQA, rbac.RoleAdmin}},
	})

	assert.False(t, p.Authorize(rbac.RoleQA, "/capa/archive/2025"))
	assert.True(t, p.Authorize(rbac.RoleQA, "/capa/open"))
	assert.True(t, p.Authorize(rbac.RoleAdmin, "/capa/archive/2025"))
}
