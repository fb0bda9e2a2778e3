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
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jeremyhahn/go-tpmsecret/pkg/logging"
)

const (
	DefaultEncryptTimeout = 150 * time.Millisecond
	DefaultRecryptTimeout = time.Minute

	// EphemeralKeyLength is the length of the per-encryption random key.
	EphemeralKeyLength = 64
)

var (
	defaultEncryptTimeout atomic.Int64
	defaultRecryptTimeout atomic.Int64
)

func init() {
	defaultEncryptTimeout.Store(int64(DefaultEncryptTimeout))
	defaultRecryptTimeout.Store(int64(DefaultRecryptTimeout))
}

// SetDefaultTimeouts changes the timeouts used by values created without
// explicit ones. An encrypt timeout of zero keeps new values permanently
// encrypted; a recrypt timeout of zero disables re-keying.
func SetDefaultTimeouts(encrypt, recrypt time.Duration) error {
	if encrypt < 0 || recrypt < 0 {
		return ErrInvalidTimeout
	}
	defaultEncryptTimeout.Store(int64(encrypt))
	defaultRecryptTimeout.Store(int64(recrypt))
	return nil
}

// DefaultTimeouts returns the current package defaults.
func DefaultTimeouts() (encrypt, recrypt time.Duration) {
	return time.Duration(defaultEncryptTimeout.Load()), time.Duration(defaultRecryptTimeout.Load())
}

// HardwareEngine binds the wrapping key to a TPM. tpm2.Engine and
// tpm2.Shared satisfy it.
type HardwareEngine interface {
	HMAC(ctx context.Context, data, key []byte) ([]byte, error)
}

// AccessFunc is called after every successful read.
type AccessFunc func(sv *SecuredValue)

type options struct {
	name            string
	encryptTimeout  time.Duration
	recryptTimeout  time.Duration
	engine          HardwareEngine
	requireHardware bool
	random          io.Reader
	logger          *logging.Logger
	onAccess        []AccessFunc
	softwareStorage bool
}

// Option configures a SecuredValue.
type Option func(*options) error

// WithEncryptTimeout sets the inactivity period after which the plaintext
// is encrypted. Zero keeps the value encrypted at all times.
func WithEncryptTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("%w: encrypt timeout %s", ErrInvalidTimeout, d)
		}
		o.encryptTimeout = d
		return nil
	}
}

// WithRecryptTimeout sets the re-keying interval while encrypted. Zero
// disables re-keying.
func WithRecryptTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("%w: recrypt timeout %s", ErrInvalidTimeout, d)
		}
		o.recryptTimeout = d
		return nil
	}
}

// WithHardware binds wrapping keys to the TPM behind engine. A nil engine
// is ignored.
func WithHardware(engine HardwareEngine) Option {
	return func(o *options) error {
		o.engine = engine
		return nil
	}
}

// WithRequireHardware fails construction when no engine is configured.
func WithRequireHardware() Option {
	return func(o *options) error {
		o.requireHardware = true
		return nil
	}
}

// WithName labels the value in status reports.
func WithName(name string) Option {
	return func(o *options) error {
		o.name = name
		return nil
	}
}

// WithRandom sets the source of ephemeral keys and nonces.
func WithRandom(r io.Reader) Option {
	return func(o *options) error {
		o.random = r
		return nil
	}
}

// WithLogger sets the logger. Defaults to logging.DefaultLogger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithOnAccess registers an access listener at construction.
func WithOnAccess(fn AccessFunc) Option {
	return func(o *options) error {
		if fn != nil {
			o.onAccess = append(o.onAccess, fn)
		}
		return nil
	}
}

// WithSoftwareStorage makes a DeviceSecret protect its storable value with
// the system scope key alone, without the TPM.
func WithSoftwareStorage() Option {
	return func(o *options) error {
		o.softwareStorage = true
		return nil
	}
}

func newOptions(opts []Option) (*options, error) {
	encrypt, recrypt := DefaultTimeouts()
	o := &options{
		encryptTimeout: encrypt,
		recryptTimeout: recrypt,
		random:         rand.Reader,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.logger == nil {
		o.logger = logging.DefaultLogger()
	}
	if o.requireHardware && o.engine == nil {
		return nil, ErrHardwareRequired
	}
	return o, nil
}
