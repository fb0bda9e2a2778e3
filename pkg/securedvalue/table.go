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

package securedvalue

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
)

// live indexes every open SecuredValue by id for status reporting.
var (
	live      sync.Map
	liveCount atomic.Int64
	failures  atomic.Int64
)

func register(sv *SecuredValue) {
	if _, loaded := live.LoadOrStore(sv.id, sv); !loaded {
		metrics.SetSecuredValues(int(liveCount.Add(1)))
	}
}

func unregister(id string) {
	if _, loaded := live.LoadAndDelete(id); loaded {
		metrics.SetSecuredValues(int(liveCount.Add(-1)))
	}
}

// Count returns the number of open values in the process.
func Count() int {
	return int(liveCount.Load())
}

// Lookup returns the open value with the given id.
func Lookup(id string) (*SecuredValue, bool) {
	v, ok := live.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*SecuredValue), true
}

// Values returns the open values ordered by id.
func Values() []*SecuredValue {
	var out []*SecuredValue
	live.Range(func(_, v any) bool {
		out = append(out, v.(*SecuredValue))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Failures returns how many values have been closed by a failed
// transition since the process started.
func Failures() int64 {
	return failures.Load()
}
