package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm change.
const (
	DomainSegment = "evidence/segment/v1"
	DomainPayload = "evidence/payload/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SegmentID derives the identifier of a capture segment from its timestamp
// and blob id. Two capture attempts that reach the same (ts_utc, blob_id)
// collapse to the same id, which is what lets the segment store recognise
// a retry.
//
// Metadata is intentionally EXCLUDED: it is caller-supplied and may be
// rebuilt between attempts, while the blob and timestamp pin the evidence.
func SegmentID(tsUTC, blobID string) (string, error) {
	if tsUTC == "" || blobID == "" {
		return "", fmt.Errorf("SegmentID: ts_utc and blob_id are required")
	}
	canonical, err := MarshalCanonical(Object{
		"blob_id": String(blobID),
		"ts_utc":  String(tsUTC),
	})
	if err != nil {
		return "", fmt.Errorf("SegmentID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSegment, canonical), nil
}

// MustSegmentID is like SegmentID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSegmentID(tsUTC, blobID string) string {
	id, err := SegmentID(tsUTC, blobID)
	if err != nil {
		panic(err)
	}
	return id
}

// PayloadDigest returns the content address of an encoded payload.
// Blob stores that are content-addressable use it as their blob id.
func PayloadDigest(payload []byte) string {
	return hashWithDomain(DomainPayload, payload)
}
