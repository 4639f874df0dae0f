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

import "strings"

// resolutionRule maps a substring of a normalized principal to a role.
type resolutionRule struct {
	contains string
	role     Role
}

// resolutionRules is evaluated top to bottom and the first match wins.
// The order IS the precedence: a principal containing both "admin" and
// "qa" resolves to Admin because that rule is listed first. Changing the
// order changes role assignment for such principals, so the order is
// pinned by tests.
var resolutionRules = []resolutionRule{
	{contains: "admin", role: RoleAdmin},
	{contains: "qa", role: RoleQA},
	{contains: "engineer", role: RoleEngineer},
	{contains: "manager", role: RoleManager},
}

// ResolveRole maps a verified principal string (an email-like identifier
// from the external identity provider) to exactly one role. Total and
// deterministic: it never errors, and the same input always yields the
// same role. Principals matching no rule get RoleProduction, the
// least-privileged tier.
func ResolveRole(principal string) Role {
	normalized := strings.ToLower(principal)
	for _, rule := range resolutionRules {
		if strings.Contains(normalized, rule.contains) {
			return rule.role
		}
	}
	return RoleProduction
}
