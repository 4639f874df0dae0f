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

package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError carries a user-actionable message about malformed or
// incomplete operation arguments. Distinct from an authorization failure:
// the caller may fix the arguments and retry.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError formats a validation failure.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// asValidationError converts validator output into a single actionable
// message listing the offending fields. Internal validator detail does not
// leak; field names come from the json tags users actually sent.
func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError("invalid arguments: %v", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", fieldName(fe)))
		case "email":
			problems = append(problems, fmt.Sprintf("%s must be an email address", fieldName(fe)))
		case "oneof":
			problems = append(problems, fmt.Sprintf("%s must be one of: %s", fieldName(fe), fe.Param()))
		case "min":
			problems = append(problems, fmt.Sprintf("%s is too short", fieldName(fe)))
		case "datetime":
			problems = append(problems, fmt.Sprintf("%s must be a date in the form %s", fieldName(fe), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s is invalid", fieldName(fe)))
		}
	}
	return NewValidationError("%s", strings.Join(problems, "; "))
}

func fieldName(fe validator.FieldError) string {
	// StructNamespace looks like CreateCAPAArgs.ReportedBy; strip the type.
	name := fe.Field()
	if name == "" {
		name = fe.StructField()
	}
	return name
}
