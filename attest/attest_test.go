/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package attest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReportVerify(t *testing.T) {
	report := NewReport("session-1", RoleVerifier, "GroupX", "valid", "GroupX")
	require.NoError(t, report.Verify())
}

func TestReportTamperDetected(t *testing.T) {
	report := NewReport("session-1", RoleProver, "GroupX", "invalid", "proof failed")

	report.Outcome = "valid"
	require.Error(t, report.Verify())
}

func TestReportFieldBoundaries(t *testing.T) {
	// shifting a boundary between adjacent fields must change the digest
	a := NewReport("ab", RoleProver, "c", "outcome", "")
	b := NewReport("a", RoleProver, "bc", "outcome", "")
	require.NotEqual(t, a.Digest, b.Digest)
}
