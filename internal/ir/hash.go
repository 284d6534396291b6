package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration without colliding
// with hashes minted under the old scheme.
const (
	DomainBoard    = "loom/board/v1"
	DomainAspect   = "loom/aspect/v1"
	DomainReceipt  = "loom/receipt/v1"
	DomainSnapshot = "loom/snapshot/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash canonically marshals v and hashes it under the given domain.
func ContentHash(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content hash: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// ParamsHash computes the content hash of an aspect's parameter object.
// Used as the deterministic tiebreak when ordering aspects that share a
// name, and as the identity of an aspect installation for receipts.
func ParamsHash(params Object) (string, error) {
	if params == nil {
		params = Object{}
	}
	return ContentHash(DomainAspect, params)
}

// ReceiptID computes a content-addressed receipt identity.
// A receipt is identified by the op it answers, the board version the op
// was applied against, and the binder's logical clock - replaying the same
// batch against the same version mints the same receipt ids.
func ReceiptID(opID string, boardVersion, seq int64) string {
	obj := Object{
		"op_id":   String(opID),
		"version": Int(boardVersion),
		"seq":     Int(seq),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		// All three fields are canonical-safe types; this cannot fail.
		panic(fmt.Sprintf("receipt id: %v", err))
	}
	return hashWithDomain(DomainReceipt, canonical)
}

// SnapshotHash computes the content hash of an exported network snapshot.
func SnapshotHash(payload Object) (string, error) {
	return ContentHash(DomainSnapshot, payload)
}

// HashBytes hashes pre-serialized bytes under a domain. For payloads
// that cannot pass through canonical marshaling, e.g. network snapshots
// whose contact content may legitimately be null; the caller must supply
// deterministic bytes.
func HashBytes(domain string, data []byte) string {
	return hashWithDomain(domain, data)
}

// MustContentHash is like ContentHash but panics on error.
// Use only in tests or when the value is known to be canonical-safe.
func MustContentHash(domain string, v Value) string {
	h, err := ContentHash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}
