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

// Package mac is the process-wide registry of MAC algorithms. Software HMAC
// algorithms register themselves at init; hardware-bound algorithms are
// registered by the package that implements them.
package mac

import (
	"crypto"
	"crypto/hmac"
	"errors"
	"fmt"
	"sort"
	"sync"

	// hash implementations used by the software algorithms
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
)

var (
	ErrUnknownAlgorithm   = errors.New("mac: unknown algorithm")
	ErrDuplicateAlgorithm = errors.New("mac: algorithm already registered")
	ErrHardwareAlgorithm  = errors.New("mac: algorithm requires a hardware engine")
	ErrInvalidAlgorithm   = errors.New("mac: invalid algorithm descriptor")
)

// Algorithm describes a registered MAC algorithm.
type Algorithm struct {
	// Name is the unique, case-sensitive registry name, e.g. "HMAC-SHA256".
	Name string
	// ID is the unique numeric identifier.
	ID int
	// Hash is the underlying digest.
	Hash crypto.Hash
	// UsesHardware is set for algorithms that must be computed by a TPM.
	UsesHardware bool
}

// MACLength returns the output length in bytes.
func (a Algorithm) MACLength() int {
	return a.Hash.Size()
}

// Sum computes the MAC of data under key. Hardware algorithms return
// ErrHardwareAlgorithm; compute those through the TPM engine instead.
func (a Algorithm) Sum(data, key []byte) ([]byte, error) {
	if a.UsesHardware {
		return nil, fmt.Errorf("%w: %s", ErrHardwareAlgorithm, a.Name)
	}
	return HMAC(a.Hash, data, key), nil
}

// HMAC computes a software HMAC of data under key.
func HMAC(hash crypto.Hash, data, key []byte) []byte {
	h := hmac.New(hash.New, key)
	h.Write(data)
	return h.Sum(nil)
}

type registry struct {
	mu     sync.RWMutex
	byName map[string]Algorithm
	byID   map[int]Algorithm
}

var algorithms = &registry{
	byName: make(map[string]Algorithm),
	byID:   make(map[int]Algorithm),
}

// Register adds an algorithm. Names and IDs must be unique.
func Register(alg Algorithm) error {
	if alg.Name == "" || !alg.Hash.Available() {
		return fmt.Errorf("%w: %q", ErrInvalidAlgorithm, alg.Name)
	}
	algorithms.mu.Lock()
	defer algorithms.mu.Unlock()
	if _, ok := algorithms.byName[alg.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAlgorithm, alg.Name)
	}
	if _, ok := algorithms.byID[alg.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrDuplicateAlgorithm, alg.ID)
	}
	algorithms.byName[alg.Name] = alg
	algorithms.byID[alg.ID] = alg
	return nil
}

// MustRegister is Register for package init functions.
func MustRegister(alg Algorithm) {
	if err := Register(alg); err != nil {
		panic(err)
	}
}

// ByName looks up an algorithm by its registry name.
func ByName(name string) (Algorithm, error) {
	algorithms.mu.RLock()
	defer algorithms.mu.RUnlock()
	alg, ok := algorithms.byName[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, name)
	}
	return alg, nil
}

// ByID looks up an algorithm by its numeric identifier.
func ByID(id int) (Algorithm, error) {
	algorithms.mu.RLock()
	defer algorithms.mu.RUnlock()
	alg, ok := algorithms.byID[id]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: id %d", ErrUnknownAlgorithm, id)
	}
	return alg, nil
}

// All returns every registered algorithm ordered by ID.
func All() []Algorithm {
	algorithms.mu.RLock()
	out := make([]Algorithm, 0, len(algorithms.byID))
	for _, alg := range algorithms.byID {
		out = append(out, alg)
	}
	algorithms.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
