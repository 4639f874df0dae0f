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

package action

import "errors"

// Domain errors
var (
	// ErrPermissionDenied is an authorization failure. It is surfaced as a
	// generic forbidden outcome; the missing permission is never named to
	// the caller.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConfirmationNotFound covers a confirm call referencing an
	// identifier that does not exist or was already resolved. A client
	// error, not retried automatically.
	ErrConfirmationNotFound = errors.New("confirmation not found")

	// ErrUpstreamUnavailable covers record-store failures during dry-run
	// or execution. Mutations fail closed; no partial state is left.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrTooManyPending bounds unconfirmed proposals per session.
	ErrTooManyPending = errors.New("too many pending confirmations for session")
)
