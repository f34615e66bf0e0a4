// Package upi builds and parses UPI deep-link payment strings.
//
// The string is consumed by the payer's scanner app, so it must be byte-identical for
// identical inputs: parameters are always written in the same order and escaped the
// same way.
package upi

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	scheme   = "upi"
	host     = "pay"
	txPrefix = "TXN"
)

var (
	ErrInvalidAmount        = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidPayee         = errors.New("payee address is required")
	ErrMalformed            = errors.New("malformed payment string")

	transactionIDPattern = regexp.MustCompile(`^TXN[0-9]{6,20}$`)
)

// Payee identifies who is paid
type Payee struct {
	VPA          string // pa
	Name         string // pn
	MerchantCode string // mc
	Currency     string // cu
}

// Instruction is the full content of a payment string
type Instruction struct {
	Payee
	TransactionID string          // tr
	Note          string          // tn
	Amount        decimal.Decimal // am
}

// Generate encodes an instruction into a payment string
func Generate(in Instruction) (string, error) {
	if in.VPA == "" {
		return "", ErrInvalidPayee
	}
	if !ValidTransactionID(in.TransactionID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionID, in.TransactionID)
	}
	if !in.Amount.IsPositive() || !in.Amount.Equal(in.Amount.Round(2)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidAmount, in.Amount.String())
	}

	currency := in.Currency
	if currency == "" {
		currency = "INR"
	}

	params := [][2]string{
		{"pa", in.VPA},
		{"pn", in.Name},
		{"mc", in.MerchantCode},
		{"tr", in.TransactionID},
		{"tn", in.Note},
		{"am", in.Amount.StringFixed(2)},
		{"cu", currency},
	}

	var sb strings.Builder
	sb.WriteString(scheme + "://" + host + "?")
	first := true
	for _, p := range params {
		if p[1] == "" {
			continue
		}
		if !first {
			sb.WriteByte('&')
		}
		first = false
		sb.WriteString(p[0])
		sb.WriteByte('=')
		sb.WriteString(escape(p[1]))
	}

	return sb.String(), nil
}

// Decode parses a payment string produced by Generate
func Decode(s string) (*Instruction, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if u.Scheme != scheme || u.Host != host {
		return nil, fmt.Errorf("%w: unexpected prefix %s://%s", ErrMalformed, u.Scheme, u.Host)
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	amount, err := decimal.NewFromString(q.Get("am"))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", ErrMalformed, q.Get("am"))
	}

	in := &Instruction{
		Payee: Payee{
			VPA:          q.Get("pa"),
			Name:         q.Get("pn"),
			MerchantCode: q.Get("mc"),
			Currency:     q.Get("cu"),
		},
		TransactionID: q.Get("tr"),
		Note:          q.Get("tn"),
		Amount:        amount,
	}
	if !ValidTransactionID(in.TransactionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransactionID, in.TransactionID)
	}

	return in, nil
}

// escape is query escaping with %20 for spaces, which UPI apps expect
func escape(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}

// ValidTransactionID reports whether id has the generator's format
func ValidTransactionID(id string) bool {
	return transactionIDPattern.MatchString(id)
}

// IDGenerator mints transaction ids that are never reused
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator creates a generator for the given snowflake node (0-1023)
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &IDGenerator{node: node}, nil
}

// NewTransactionID returns a fresh transaction id
func (g *IDGenerator) NewTransactionID() string {
	return txPrefix + g.node.Generate().String()
}

// QRCode renders the payment string as a PNG QR code
func QRCode(payload string, size int) ([]byte, error) {
	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("failed to write png: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteQRCode renders the payment string to <dir>/<transactionID>.png and returns the path
func WriteQRCode(dir, transactionID, payload string) (string, error) {
	data, err := QRCode(payload, 512)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create qr dir: %w", err)
	}

	path := filepath.Join(dir, transactionID+".png")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write qr image: %w", err)
	}
	return path, nil
}
