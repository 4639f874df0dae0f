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

// Package policy holds the route-level access table. It is evaluated by a
// centralized middleware before any handler runs; handlers never
// re-implement route authorization.
package policy

import (
	"strings"

	"github.com/qmsportal/qmsportal/internal/rbac"
)

// Rule associates a resource-path prefix with the roles allowed to reach
// it. Rules are evaluated in order; the first matching prefix governs.
type Rule struct {
	Prefix string
	Roles  []rbac.Role
}

// Policy is an ordered, immutable prefix rule table. Safe for
// unsynchronized concurrent reads after construction.
type Policy struct {
	rules []Rule
}

// New builds a policy from an ordered rule list.
func New(rules []Rule) *Policy {
	return &Policy{rules: rules}
}

// Default returns the portal's route table. Paths matching no rule are
// open; authentication is enforced separately and before role evaluation.
func Default() *Policy {
	return New([]Rule{
		{Prefix: "/admin", Roles: []rbac.Role{rbac.RoleAdmin}},
		{Prefix: "/capa", Roles: []rbac.Role{rbac.RoleQA, rbac.RoleManager, rbac.RoleAdmin}},
		{Prefix: "/dcr", Roles: []rbac.Role{rbac.RoleEngineer, rbac.RoleManager, rbac.RoleAdmin}},
		{Prefix: "/dashboard", Roles: []rbac.Role{rbac.RoleEngineer, rbac.RoleQA, rbac.RoleManager, rbac.RoleAdmin}},
		{Prefix: "/reports", Roles: []rbac.Role{rbac.RoleQA, rbac.RoleManager, rbac.RoleAdmin}},
	})
}

// Protected reports whether path is covered by any rule, i.e. whether a
// verified identity is required before role evaluation.
func (p *Policy) Protected(path string) bool {
	for _, rule := range p.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return true
		}
	}
	return false
}

// Authorize decides whether role may reach path. First matching prefix
// rule governs; unmatched paths are allowed. Callers must have already
// established that an identity is present; an unauthenticated request to
// a protected path is denied before this is reached.
func (p *Policy) Authorize(role rbac.Role, path string) bool {
	for _, rule := range p.rules {
		if !strings.HasPrefix(path, rule.Prefix) {
			continue
		}
		for _, allowed := range rule.Roles {
			if role == allowed {
				return true
			}
		}
		return false
	}
	return true
}
