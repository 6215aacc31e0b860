// Package canonical implements the order-stable serialization and SHA-256
// helpers behind every hashed artifact in the system: contract hashes,
// execution proofs, ledger links, and Merkle nodes.
//
// The serializer is deliberately small so that an independent implementation
// can reproduce the same bytes: object keys are sorted, there is no
// whitespace, arrays keep their order, absent fields are simply omitted, and
// numbers are rendered in their minimal form.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedType is returned when a value cannot be rendered canonically.
	ErrUnsupportedType = errors.New("canonical: unsupported type")
	// ErrNonFiniteNumber is returned for NaN and infinities, which have no JSON form.
	ErrNonFiniteNumber = errors.New("canonical: non-finite number")
)

// Marshal renders v as canonical JSON bytes.
//
// Supported value types: nil, bool, string, int, int32, int64, uint, uint64,
// float32, float64, []string, []any, map[string]any, and map[string]string.
// Anything else is an ErrUnsupportedType; callers are expected to lower their
// structs into these shapes explicitly so the hashed surface stays visible.
func Marshal(v any) ([]byte, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// HashHex returns the SHA-256 hex digest of the canonical form of v.
func HashHex(v any) (string, error) {
	data, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SumHex(data), nil
}

// SumHex returns the lowercase SHA-256 hex digest of raw bytes.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Truncate16 returns the first 16 hex characters of h (contract hashes).
func Truncate16(h string) string { return truncate(h, 16) }

// Truncate32 returns the first 32 hex characters of h (execution proofs).
func Truncate32(h string) string { return truncate(h, 32) }

func truncate(h string, n int) string {
	if len(h) <= n {
		return h
	}
	return h[:n]
}

func encode(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		encodeString(b, val)
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return encodeFloat(b, float64(val))
	case float64:
		return encodeFloat(b, val)
	case []string:
		b.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, s)
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encode(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return encode(b, m)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodeString(b, k)
			b.WriteByte(':')
			if err := encode(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// encodeFloat keeps integral floats indistinguishable from integers so a
// record that round-trips through a float-only JSON parser hashes the same.
func encodeFloat(b *strings.Builder, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrNonFiniteNumber
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		b.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}
