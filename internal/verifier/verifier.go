// Package verifier checks that data written out and read back matches what
// was written.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/dbsmedya/gorecipe/internal/logger"
	"github.com/dbsmedya/gorecipe/internal/relation"
	"github.com/dbsmedya/gorecipe/internal/types"
)

// ErrMismatch is returned when the written and read back data differ.
var ErrMismatch = errors.New("verification mismatch")

// Method defines how to verify data integrity.
type Method string

const (
	// MethodCount uses simple row count comparison (fast)
	MethodCount Method = "count"
	// MethodSHA256 uses SHA256 hash of all rows (slower but more thorough)
	MethodSHA256 Method = "sha256"
	// MethodSkip skips verification entirely
	MethodSkip Method = "skip"
)

// ParseMethod validates a method name. Empty means MethodCount.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case "":
		return MethodCount, nil
	case MethodCount, MethodSHA256, MethodSkip:
		return m, nil
	}
	return "", fmt.Errorf("unsupported verification method: %s", s)
}

// Result holds the verification outcome for one frame pair.
type Result struct {
	Label        string
	Method       Method
	SourceCount  int64
	DestCount    int64
	SourceHash   string
	DestHash     string
	Match        bool
	ErrorMessage string
}

// Verifier compares a source frame with its copy.
type Verifier struct {
	method    Method
	chunkSize int // rows hashed between context checks
	logger    *logger.Logger
}

// New creates a verifier. An empty method defaults to MethodCount.
func New(method Method, log *logger.Logger) (*Verifier, error) {
	m, err := ParseMethod(string(method))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Verifier{method: m, chunkSize: 1000, logger: log}, nil
}

// Method returns the configured method.
func (v *Verifier) Method() Method {
	return v.method
}

// SetChunkSize sets how many rows are hashed between context checks.
func (v *Verifier) SetChunkSize(size int) {
	if size > 0 {
		v.chunkSize = size
	}
}

// Verify compares source with dest. A mismatch returns the result together
// with an error wrapping ErrMismatch.
func (v *Verifier) Verify(ctx context.Context, label string, source, dest *relation.Frame) (*Result, error) {
	if v.method == MethodSkip {
		v.logger.Debugw("Verification skipped", "label", label)
		return &Result{Label: label, Method: MethodSkip, Match: true}, nil
	}

	res := &Result{
		Label:       label,
		Method:      v.method,
		SourceCount: int64(source.Len()),
		DestCount:   int64(dest.Len()),
	}
	res.Match = res.SourceCount == res.DestCount
	if !res.Match {
		res.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, dest=%d", res.SourceCount, res.DestCount)
	}

	// Frames without rows carry no column information once written out.
	if res.Match && res.SourceCount > 0 && v.method == MethodSHA256 {
		var err error
		if res.SourceHash, err = v.HashFrame(ctx, source); err != nil {
			return nil, fmt.Errorf("failed to compute source hash: %w", err)
		}
		if res.DestHash, err = v.HashFrame(ctx, dest); err != nil {
			return nil, fmt.Errorf("failed to compute destination hash: %w", err)
		}
		res.Match = res.SourceHash == res.DestHash
		if !res.Match {
			res.ErrorMessage = fmt.Sprintf("hash mismatch: source=%s, dest=%s", res.SourceHash[:16], res.DestHash[:16])
		}
	}

	if !res.Match {
		v.logger.Errorw("Verification FAILED", "label", label, "reason", res.ErrorMessage)
		return res, fmt.Errorf("%w in %s: %s", ErrMismatch, label, res.ErrorMessage)
	}
	v.logger.Debugw("Verification PASSED", "label", label, "method", string(v.method), "rows", res.SourceCount)
	return res, nil
}

// HashFrame computes a SHA256 over the column names and every row in order.
// Values are hashed by their text form, so an integral float and the same
// integer hash equally.
func (v *Verifier) HashFrame(ctx context.Context, f *relation.Frame) (string, error) {
	h := sha256.New()
	for _, c := range f.Columns {
		writeField(h, c)
	}
	for i, row := range f.Rows {
		if i%v.chunkSize == 0 {
			if err := ctx.Err(); err != nil {
				return "", fmt.Errorf("verification interrupted: %w", err)
			}
		}
		serializeRow(h, row)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// serializeRow writes a row in a deterministic form. Nulls are marked apart
// from empty strings.
func serializeRow(h hash.Hash, row []any) {
	_, _ = io.WriteString(h, "\x01")
	for _, val := range row {
		if val == nil {
			_, _ = io.WriteString(h, "\x02")
			continue
		}
		writeField(h, types.FormatValue(val))
	}
}

// writeField writes s followed by a null byte separator.
func writeField(h hash.Hash, s string) {
	_, _ = io.WriteString(h, s)
	_, _ = io.WriteString(h, "\x00")
}
