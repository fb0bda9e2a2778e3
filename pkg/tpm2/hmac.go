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

package tpm2

import (
	"context"
	"crypto"
	"crypto/sha256"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmsecret/pkg/metrics"
)

// HMAC computes a device-bound HMAC of data.
//
// A keyed-hash primary object is derived under the configured hierarchy
// with its unique field set to SHA-256(key), so the HMAC key mixes the
// caller's key with the hierarchy's seed and never exists outside the TPM.
// The result is deterministic for identical (data, hash, key) on the same
// TPM and differs from a software HMAC of the same input.
//
// data is streamed in DigestBufferSize chunks. ctx is checked between
// commands only; a command already sent runs to completion.
func (h *Handle) HMAC(ctx context.Context, data []byte, hash crypto.Hash, key []byte) (digest []byte, err error) {
	if h.closed {
		return nil, ErrClosed
	}
	algID, err := algorithmID(hash)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.RecordHardwareOperation(metrics.OpHMAC, time.Since(start), err)
	}()

	primary, err := h.createHMACKey(algID, key)
	if err != nil {
		return nil, commandFailed("create hmac key", err)
	}
	defer h.flush(primary.ObjectHandle)

	session, closeSession, err := h.hmacSession()
	if err != nil {
		return nil, commandFailed("start session", err)
	}
	defer func() {
		if cerr := closeSession(); cerr != nil {
			h.logger.Warnf("tpm: failed to close hmac session: %v", cerr)
		}
	}()

	started, err := tpm2.HmacStart{
		Handle: tpm2.AuthHandle{
			Handle: primary.ObjectHandle,
			Name:   primary.Name,
			Auth:   session,
		},
		Auth:    tpm2.TPM2BAuth{},
		HashAlg: tpm2.TPMAlgNull,
	}.Execute(h.transport)
	if err != nil {
		return nil, commandFailed("hmac start", err)
	}

	sequence := tpm2.AuthHandle{
		Handle: started.SequenceHandle,
		Auth:   tpm2.PasswordAuth(nil),
	}
	completed := false
	defer func() {
		if !completed {
			h.flush(started.SequenceHandle)
		}
	}()

	for len(data) > DigestBufferSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, err = tpm2.SequenceUpdate{
			SequenceHandle: sequence,
			Buffer:         tpm2.TPM2BMaxBuffer{Buffer: data[:DigestBufferSize]},
		}.Execute(h.transport)
		if err != nil {
			return nil, commandFailed("sequence update", err)
		}
		data = data[DigestBufferSize:]
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rsp, err := tpm2.SequenceComplete{
		SequenceHandle: sequence,
		Buffer:         tpm2.TPM2BMaxBuffer{Buffer: data},
		Hierarchy:      h.hierarchy,
	}.Execute(h.transport)
	if err != nil {
		return nil, commandFailed("sequence complete", err)
	}
	completed = true

	return rsp.Result.Buffer, nil
}

func (h *Handle) createHMACKey(algID tpm2.TPMAlgID, key []byte) (*tpm2.CreatePrimaryResponse, error) {
	unique := sha256.Sum256(key)
	template := tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgKeyedHash,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			SignEncrypt:         true,
		},
		Parameters: tpm2.NewTPMUPublicParms(tpm2.TPMAlgKeyedHash,
			&tpm2.TPMSKeyedHashParms{
				Scheme: tpm2.TPMTKeyedHashScheme{
					Scheme: tpm2.TPMAlgHMAC,
					Details: tpm2.NewTPMUSchemeKeyedHash(tpm2.TPMAlgHMAC,
						&tpm2.TPMSSchemeHMAC{HashAlg: algID}),
				},
			}),
		Unique: tpm2.NewTPMUPublicID(tpm2.TPMAlgKeyedHash,
			&tpm2.TPM2BDigest{Buffer: unique[:]}),
	}

	return tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: h.hierarchy,
			Auth:   tpm2.PasswordAuth(h.hierarchyAuth),
		},
		InPublic: tpm2.New2B(template),
	}.Execute(h.transport)
}

// hmacSession starts an unsalted HMAC authorization session, with
// parameter encryption when the configuration asks for it.
func (h *Handle) hmacSession() (tpm2.Session, func() error, error) {
	if h.config.EncryptSession {
		return tpm2.HMACSession(h.transport, tpm2.TPMAlgSHA256, 16,
			tpm2.AESEncryption(128, tpm2.EncryptIn))
	}
	return tpm2.HMACSession(h.transport, tpm2.TPMAlgSHA256, 16)
}
