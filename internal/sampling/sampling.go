// Package sampling implements deterministic hash-based sampling used to bucket
// clients into recipes and to pick an enrollment branch.
//
// The algorithm is a wire contract shared with the recipe-authoring service:
// every client in the fleet must produce the same decision for the same input,
// so the hash (SHA-256 over the JSON serialization of the input, truncated to
// 48 bits) and the fraction-to-key arithmetic must match bit for bit.
package sampling

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// hashBits is the number of bits of the SHA-256 digest used for sampling.
	hashBits = 48

	// hashLength is the number of hex characters that represent hashBits.
	hashLength = hashBits / 4
)

// hashMultiplier is 2^48 - 1, the largest truncated hash value.
var hashMultiplier = math.Pow(2, hashBits) - 1

var (
	// ErrInvalidBucketConfig is returned when a bucket range cannot be mapped onto [0, total).
	ErrInvalidBucketConfig = errors.New("invalid bucket config")

	// ErrInvalidRatios is returned when branch ratios are empty or not strictly positive.
	ErrInvalidRatios = errors.New("invalid ratios")
)

// BucketConfig describes the slice of the bucket space a recipe enrolls.
type BucketConfig struct {
	Namespace string
	Start     int
	Count     int
	Total     int
}

// Validate enforces 0 <= start < total and 0 < count <= total.
func (c BucketConfig) Validate() error {
	switch {
	case c.Total <= 0:
		return fmt.Errorf("%w: total must be positive, got %d", ErrInvalidBucketConfig, c.Total)
	case c.Start < 0 || c.Start >= c.Total:
		return fmt.Errorf("%w: start must be in [0, %d), got %d", ErrInvalidBucketConfig, c.Total, c.Start)
	case c.Count <= 0 || c.Count > c.Total:
		return fmt.Errorf("%w: count must be in (0, %d], got %d", ErrInvalidBucketConfig, c.Total, c.Count)
	}
	return nil
}

// IsInBucket reports whether id falls into the bucket range of cfg.
// The hashed input is the pair [id, namespace], so the same client lands in
// unrelated buckets for different namespaces.
func IsInBucket(id string, cfg BucketConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}
	return BucketSample([]string{id, cfg.Namespace}, cfg.Start, cfg.Count, cfg.Total)
}

// BucketSample reports whether input hashes into [start, start+count) out of
// total buckets. Ranges that run past total wrap around to bucket 0.
func BucketSample(input any, start, count, total int) (bool, error) {
	if total <= 0 {
		return false, fmt.Errorf("%w: total must be positive, got %d", ErrInvalidBucketConfig, total)
	}

	inputHash, err := TruncatedHash(input)
	if err != nil {
		return false, err
	}

	wrappedStart := start % total
	end := wrappedStart + count

	if end > total {
		return isHashInBucket(inputHash, 0, end%total, total) ||
			isHashInBucket(inputHash, wrappedStart, total, total), nil
	}

	return isHashInBucket(inputHash, wrappedStart, end, total), nil
}

// ChooseBranch picks an index into ratios using input as the only source of
// entropy. Each index is chosen with probability ratios[i] / sum(ratios).
func ChooseBranch(input string, ratios []int) (int, error) {
	if len(ratios) == 0 {
		return 0, fmt.Errorf("%w: ratios must have at least one element", ErrInvalidRatios)
	}

	ratioTotal := 0
	for i, r := range ratios {
		if r <= 0 {
			return 0, fmt.Errorf("%w: ratio at index %d must be positive, got %d", ErrInvalidRatios, i, r)
		}
		ratioTotal += r
	}

	inputHash, err := TruncatedHash(input)
	if err != nil {
		return 0, err
	}

	samplePoint := 0
	for i, r := range ratios {
		samplePoint += r
		if inputHash <= FractionToKey(float64(samplePoint)/float64(ratioTotal)) {
			return i, nil
		}
	}

	return len(ratios) - 1, nil
}

// TruncatedHash returns the first 48 bits (12 lowercase hex characters) of the
// SHA-256 digest of the JSON serialization of input.
func TruncatedHash(input any) (string, error) {
	serialized, err := stringify(input)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(digest[:])[:hashLength], nil
}

// FractionToKey maps frac in [0, 1] onto a zero-padded 12 character hex key.
// Keys compare lexicographically in the same order as their numeric values.
func FractionToKey(frac float64) string {
	if frac < 0 || frac > 1 {
		panic(fmt.Sprintf("sampling: fraction must be between 0 and 1 inclusive, got %v", frac))
	}

	key := strconv.FormatUint(uint64(math.Floor(frac*hashMultiplier)), 16)
	if len(key) < hashLength {
		key = strings.Repeat("0", hashLength-len(key)) + key
	}
	return key
}

func isHashInBucket(inputHash string, minBucket, maxBucket, bucketCount int) bool {
	minHash := FractionToKey(float64(minBucket) / float64(bucketCount))
	maxHash := FractionToKey(float64(maxBucket) / float64(bucketCount))
	return minHash <= inputHash && inputHash < maxHash
}

// stringify serializes input the way the recipe-authoring service does
// (compact JSON, no HTML escaping). Only the shapes used for sampling inputs
// are supported.
func stringify(input any) (string, error) {
	var b strings.Builder

	switch v := input.(type) {
	case string:
		quote(&b, v)
	case []string:
		b.WriteByte('[')
		for i, s := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			quote(&b, s)
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			s, err := stringify(item)
			if err != nil {
				return "", err
			}
			b.WriteString(s)
		}
		b.WriteByte(']')
	case int:
		b.WriteString(strconv.Itoa(v))
	default:
		return "", fmt.Errorf("sampling: unsupported input type %T", input)
	}

	return b.String(), nil
}

func quote(b *strings.Builder, s string) {
	const hexDigits = "0123456789abcdef"

	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[r>>4])
				b.WriteByte(hexDigits[r&0xf])
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}
