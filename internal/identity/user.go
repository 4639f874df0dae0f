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

package identity

import (
	"errors"

	"github.com/qmsportal/qmsportal/internal/rbac"
)

// Domain errors
var (
	ErrTokenInvalid     = errors.New("identity token invalid")
	ErrDomainNotAllowed = errors.New("identity domain not allowed")
)

// User is a verified portal identity. The principal (email) comes from the
// external provider; the role is re-resolved on every authentication
// event, never persisted.
type User struct {
	Email string
	Name  string
	Role  rbac.Role
}

// BuildUser constructs the portal user for a verified principal.
func BuildUser(email, name string) *User {
	if name == "" {
		name = email
	}
	return &User{
		Email: email,
		Name:  name,
		Role:  rbac.ResolveRole(email),
	}
}

// Permissions returns the grant set for the user's role.
func (u *User) Permissions() []rbac.Permission {
	return rbac.PermissionsFor(u.Role)
}
