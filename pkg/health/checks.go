// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmsecret.
//
// go-tpmsecret is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package health

import (
	"context"
	"fmt"
)

// DigestSizer is satisfied by tpm2.Engine and tpm2.Shared.
type DigestSizer interface {
	MaxDigestSize(ctx context.Context) (int, error)
}

// DeviceCheck queries the TPM's maximum digest size. A device that does not
// answer within the check timeout is unhealthy.
func DeviceCheck(device DigestSizer) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if device == nil {
			return CheckResult{
				Name:    "tpm",
				Status:  StatusDegraded,
				Message: "No TPM configured; values are protected in software",
			}
		}
		size, err := device.MaxDigestSize(ctx)
		if err != nil {
			return CheckResult{
				Name:    "tpm",
				Status:  StatusUnhealthy,
				Message: "TPM not responding",
				Error:   err.Error(),
			}
		}
		return CheckResult{
			Name:    "tpm",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("TPM ready (max digest %d bytes)", size),
		}
	}
}

// ValuesCheck reports degraded once any secured value has been closed by a
// failed transition. live and failed are usually securedvalue.Count and
// securedvalue.Failures.
func ValuesCheck(live func() int, failed func() int64) CheckFunc {
	return func(ctx context.Context) CheckResult {
		n, f := live(), failed()
		if f > 0 {
			return CheckResult{
				Name:    "secured_values",
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d live, %d failed", n, f),
			}
		}
		return CheckResult{
			Name:    "secured_values",
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%d live", n),
		}
	}
}
