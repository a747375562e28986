// Package idgen produces the business identifiers printed on labels and
// reports: order/specimen/result numbers and specimen barcodes. The textual
// layout (2-letter prefix + yyyyMMdd + zero-padded sequence) is a persisted
// contract and must not change.
package idgen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const datePart = "20060102"

// Sequence widths per entity.
const (
	orderSeqWidth    = 6
	resultSeqWidth   = 6
	specimenSeqWidth = 5
)

// Sequence hands out monotonically increasing numbers under a named
// sequence. Implementations must be safe under concurrent allocation.
type Sequence interface {
	Next(ctx context.Context, name string) (int64, error)
}

// Sequence names registered by the schema migrations.
const (
	SeqLabOrder  = "lab_order_number_seq"
	SeqSpecimen  = "specimen_number_seq"
	SeqLabResult = "lab_result_number_seq"
)

var sequenceNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// PGSequence allocates numbers from PostgreSQL sequences, which are atomic
// under concurrency. This replaces deriving sequence numbers from row
// counts, which races.
type PGSequence struct {
	pool *pgxpool.Pool
}

func NewPGSequence(pool *pgxpool.Pool) *PGSequence {
	return &PGSequence{pool: pool}
}

func (s *PGSequence) Next(ctx context.Context, name string) (int64, error) {
	if !sequenceNamePattern.MatchString(name) {
		return 0, fmt.Errorf("invalid sequence name %q", name)
	}
	var n int64
	// Sequence names cannot be bound as parameters; the pattern check above
	// keeps the interpolation safe.
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT nextval('%s')`, name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", name, err)
	}
	return n, nil
}

func format(prefix string, t time.Time, seq int64, width int) string {
	return fmt.Sprintf("%s%s%0*d", prefix, t.UTC().Format(datePart), width, seq)
}

// OrderNumber formats a lab order number, e.g. LO20250314000042.
func OrderNumber(t time.Time, seq int64) string {
	return format("LO", t, seq, orderSeqWidth)
}

// SpecimenNumber formats a specimen number, e.g. SP2025031400017.
func SpecimenNumber(t time.Time, seq int64) string {
	return format("SP", t, seq, specimenSeqWidth)
}

// ResultNumber formats a lab result number, e.g. LR20250314000105.
func ResultNumber(t time.Time, seq int64) string {
	return format("LR", t, seq, resultSeqWidth)
}

const barcodeRandomDigits = 6

// Barcode generates a specimen barcode: BC + yyyyMMdd + 6 random digits +
// Luhn check digit over the 14 numeric digits. Collisions are possible and
// the caller retries against the uniqueness constraint.
func Barcode(t time.Time) (string, error) {
	payload := t.UTC().Format(datePart)
	for i := 0; i < barcodeRandomDigits; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate barcode digit: %w", err)
		}
		payload += d.String()
	}
	return "BC" + payload + fmt.Sprintf("%d", luhnDigit(payload)), nil
}

// VerifyBarcode reports whether code has the BC layout and a valid check
// digit. Used when a scanned barcode enters the system.
func VerifyBarcode(code string) bool {
	const length = 2 + len(datePart) + barcodeRandomDigits + 1
	if len(code) != length || code[:2] != "BC" {
		return false
	}
	payload := code[2 : length-1]
	for _, c := range payload {
		if c < '0' || c > '9' {
			return false
		}
	}
	return int(code[length-1]-'0') == luhnDigit(payload)
}

// luhnDigit computes the Luhn check digit for a string of decimal digits.
func luhnDigit(digits string) int {
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10
}
