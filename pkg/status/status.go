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

// Package status reports the state of the process's secured values and
// TPM connection.
package status

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
	"github.com/jeremyhahn/go-tpmsecret/pkg/securedvalue"
)

// Device is satisfied by tpm2.Engine and tpm2.Shared.
type Device interface {
	MaxDigestSize(ctx context.Context) (int, error)
}

// Report is a process-wide snapshot.
type Report struct {
	Time          time.Time             `json:"time"`
	Hardware      bool                  `json:"hardware"`
	MaxDigestSize int                   `json:"max_digest_size,omitempty"`
	DeviceError   string                `json:"device_error,omitempty"`
	LiveValues    int                   `json:"live_values"`
	FailedValues  int64                 `json:"failed_values"`
	Values        []securedvalue.Status `json:"values"`
}

// Collect builds a report. device may be nil when no TPM is in use.
func Collect(ctx context.Context, device Device) Report {
	r := Report{
		Time:         time.Now(),
		Hardware:     device != nil,
		LiveValues:   securedvalue.Count(),
		FailedValues: securedvalue.Failures(),
		Values:       securedvalue.Snapshot(),
	}
	if device != nil {
		size, err := device.MaxDigestSize(ctx)
		if err != nil {
			r.DeviceError = err.Error()
		} else {
			r.MaxDigestSize = size
			metrics.SetMaxDigestSize(size)
		}
	}
	return r
}

// WriteText renders the report as aligned text.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Secured values:\t%d\n", r.LiveValues)
	fmt.Fprintf(tw, "Failed values:\t%d\n", r.FailedValues)
	switch {
	case !r.Hardware:
		fmt.Fprintf(tw, "TPM:\tnot configured\n")
	case r.DeviceError != "":
		fmt.Fprintf(tw, "TPM:\t%s\n", r.DeviceError)
	default:
		fmt.Fprintf(tw, "TPM max digest size:\t%d\n", r.MaxDigestSize)
	}
	for _, v := range r.Values {
		fmt.Fprintln(tw)
		for _, e := range v.Entries() {
			fmt.Fprintf(tw, "%s:\t%s\n", e.Name, e.Value)
		}
	}
	return tw.Flush()
}
