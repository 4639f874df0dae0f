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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record identifiers follow the portal convention KIND-YYYYMMDD-SUFFIX,
// e.g. CAPA-20260901-4F2A1C. The suffix is the leading hex of a v4 UUID.

func newRecordID(kind string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", kind, now.Format("20060102"), suffix)
}

// NewCAPAID mints a CAPA record identifier.
func NewCAPAID(now time.Time) string {
	return newRecordID("CAPA", now)
}

// NewDCRID mints a DCR record identifier.
func NewDCRID(now time.Time) string {
	return newRecordID("DCR", now)
}
