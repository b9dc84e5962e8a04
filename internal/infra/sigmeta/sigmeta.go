// Package sigmeta reads and writes the flat-text signature metadata
// format that publishers ship next to their artifacts. Only the CLI
// touches this format; the verification engine consumes the parsed
// struct.
package sigmeta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"provd/internal/domain"
)

var ErrMissingField = errors.New("signature metadata field missing")

// Metadata is the raw document content before it becomes a
// domain.Signature. Times travel as unix seconds with a fractional part.
type Metadata struct {
	Package        string
	Signer         string
	SigningTime    time.Time
	CertValidFrom  time.Time
	CertValidUntil time.Time
}

// Parse scans the document line by line. Unknown lines are ignored so
// publishers can carry extra fields; the five known keys are all
// required except Package, which older documents omit.
func Parse(r io.Reader) (Metadata, error) {
	var (
		meta      Metadata
		haveUntil bool
		haveFrom  bool
		haveSign  bool
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Package":
			meta.Package = value
		case "Signer":
			meta.Signer = value
		case "Signed":
			t, err := parseUnixSeconds(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("parse Signed: %w", err)
			}
			meta.SigningTime = t
			haveSign = true
		case "CertValidFrom":
			t, err := parseUnixSeconds(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("parse CertValidFrom: %w", err)
			}
			meta.CertValidFrom = t
			haveFrom = true
		case "CertValidUntil":
			t, err := parseUnixSeconds(value)
			if err != nil {
				return Metadata{}, fmt.Errorf("parse CertValidUntil: %w", err)
			}
			meta.CertValidUntil = t
			haveUntil = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, err
	}
	if meta.Signer == "" {
		return Metadata{}, fmt.Errorf("%w: Signer", ErrMissingField)
	}
	if !haveSign {
		return Metadata{}, fmt.Errorf("%w: Signed", ErrMissingField)
	}
	if !haveFrom || !haveUntil {
		return Metadata{}, fmt.Errorf("%w: certificate validity", ErrMissingField)
	}
	return meta, nil
}

func ParseString(s string) (Metadata, error) {
	return Parse(strings.NewReader(s))
}

// Render writes the document in the canonical key order.
func Render(w io.Writer, meta Metadata) error {
	var b strings.Builder
	if meta.Package != "" {
		fmt.Fprintf(&b, "Package: %s\n", meta.Package)
	}
	fmt.Fprintf(&b, "Signer: %s\n", meta.Signer)
	fmt.Fprintf(&b, "Signed: %s\n", formatUnixSeconds(meta.SigningTime))
	fmt.Fprintf(&b, "CertValidFrom: %s\n", formatUnixSeconds(meta.CertValidFrom))
	fmt.Fprintf(&b, "CertValidUntil: %s\n", formatUnixSeconds(meta.CertValidUntil))
	_, err := io.WriteString(w, b.String())
	return err
}

func RenderString(meta Metadata) string {
	var b strings.Builder
	_ = Render(&b, meta)
	return b.String()
}

// Signature converts the document into the engine's contract. valid is
// supplied by the caller's (out-of-scope) cryptographic check.
func (m Metadata) Signature(valid bool, diagnostic string) *domain.Signature {
	return &domain.Signature{
		Valid:          valid,
		Diagnostic:     diagnostic,
		SignerIdentity: m.Signer,
		SigningTime:    m.SigningTime,
		CertValidFrom:  m.CertValidFrom,
		CertValidUntil: m.CertValidUntil,
	}
}

func parseUnixSeconds(value string) (time.Time, error) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC(), nil
}

func formatUnixSeconds(t time.Time) string {
	seconds := float64(t.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
