// Package actioncache implements signed action manifests (spec.md §4.5): the
// record mapping a recipe's fingerprint to its output blobs, HMAC-SHA256
// signed so a shared remote cache can't be poisoned by an untrusted writer.
package actioncache

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrNoSecret is returned by Sign and Verify when no cache secret is
// configured. Per spec.md §4.5 there is no insecure fallback: callers must
// treat this as "the cache is disabled", not "skip the check".
var ErrNoSecret = errors.New("actioncache: no cache secret configured")

// ErrSignatureMismatch is returned by Verify when the recomputed HMAC
// doesn't match the envelope's signature.
var ErrSignatureMismatch = errors.New("actioncache: signature mismatch")

// Output describes one file produced by a recipe.
type Output struct {
	Path            string `json:"path"`
	Hash            string `json:"hash"`
	Size            int64  `json:"size"`
	Executable      bool   `json:"executable,omitempty"`
	DirectoryMarker bool   `json:"directory_marker,omitempty"`
}

// Manifest maps an action key to the outputs it produced, plus enough
// execution metadata to report a cache hit meaningfully.
type Manifest struct {
	ActionKey string   `json:"action_key"`
	Outputs   []Output `json:"outputs"`
	StartedAt int64    `json:"started_at"`
	EndedAt   int64    `json:"ended_at"`
	ExitCode  int      `json:"exit_code"`
}

// Envelope is the wire format written to the action-cache blob: the
// canonical JSON encoding of a Manifest alongside its signature.
type Envelope struct {
	ManifestBytes []byte `json:"manifest"`
	Signature     string `json:"signature"`
}

// canonicalJSON re-marshals v with object keys sorted, matching spec.md
// §4.5's "canonical byte form" requirement so sign/verify are stable across
// encodings of the same logical manifest.
func canonicalJSON(m Manifest) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("actioncache: marshal manifest: %w", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("actioncache: canonicalize manifest: %w", err)
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			sub, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(sub)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			sub, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			buf.Write(sub)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(val)
	}
}

// Sign produces a signed Envelope for m using secret. Returns ErrNoSecret if
// secret is empty.
func Sign(m Manifest, secret string) (Envelope, error) {
	if secret == "" {
		return Envelope{}, ErrNoSecret
	}
	canonical, err := canonicalJSON(m)
	if err != nil {
		return Envelope{}, err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return Envelope{
		ManifestBytes: canonical,
		Signature:     hex.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Verify checks e's signature against secret and, on success, decodes and
// returns the manifest. Returns ErrNoSecret if secret is empty,
// ErrSignatureMismatch if the HMAC doesn't match.
func Verify(e Envelope, secret string) (Manifest, error) {
	if secret == "" {
		return Manifest{}, ErrNoSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(e.ManifestBytes)
	expected := mac.Sum(nil)
	given, err := hex.DecodeString(e.Signature)
	if err != nil || !hmac.Equal(expected, given) {
		return Manifest{}, ErrSignatureMismatch
	}
	var m Manifest
	if err := json.Unmarshal(e.ManifestBytes, &m); err != nil {
		return Manifest{}, fmt.Errorf("actioncache: decode manifest: %w", err)
	}
	return m, nil
}

// MarshalEnvelope serializes e as the UTF-8 JSON wire format (spec.md §4.5):
// {"manifest": {...}, "signature": "..."}. The manifest field is embedded as
// raw JSON, not a re-escaped string, so Envelope round-trips byte-for-byte.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(struct {
		Manifest  json.RawMessage `json:"manifest"`
		Signature string          `json:"signature"`
	}{
		Manifest:  e.ManifestBytes,
		Signature: e.Signature,
	})
}

// UnmarshalEnvelope parses the wire format produced by MarshalEnvelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var wire struct {
		Manifest  json.RawMessage `json:"manifest"`
		Signature string          `json:"signature"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, fmt.Errorf("actioncache: decode envelope: %w", err)
	}
	return Envelope{ManifestBytes: []byte(wire.Manifest), Signature: wire.Signature}, nil
}
