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

// Role is one of a closed set of privilege tiers. Exactly one role is
// associated with an identity at any time; the set never grows at runtime.
type Role string

const (
	// RoleEngineer covers design-change work: DCR authoring plus read
	// access to CAPAs and the dashboard.
	RoleEngineer Role = "Engineer"

	// RoleQA covers quality assurance: full CAPA lifecycle, DCR approval,
	// and reports.
	RoleQA Role = "QA"

	// RoleProduction is the least-privileged tier and the fail-closed
	// default for identities matching no resolution rule. View-only.
	RoleProduction Role = "Production"

	// RoleManager holds the union of Engineer and QA capabilities.
	RoleManager Role = "Manager"

	// RoleAdmin holds the universal wildcard grant.
	RoleAdmin Role = "Admin"
)

// AllRoles enumerates the closed role set. Registry validation and the
// route policy iterate over this; a role missing here does not exist.
var AllRoles = []Role{
	RoleEngineer,
	RoleQA,
	RoleProduction,
	RoleManager,
	RoleAdmin,
}

// Valid reports whether r is a member of the closed role set.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

func (r Role) String() string {
	return string(r)
}
