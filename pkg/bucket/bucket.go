// Package bucket parses numbered folder names and maps them onto fixed-width
// bucket ranges.
//
// A numbered folder name starts with a prefix followed by 6 or 7 decimal
// digits (e.g. "Q123456-Archive"). Each number belongs to a bucket covering
// 1000 consecutive values aligned on a multiple of 1000. Buckets are named
// "<prefix><low>-<prefix><high>" with both bounds zero-padded to 6 digits,
// e.g. "Q123000-Q123999".
package bucket

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Width is the number of identifiers covered by one bucket.
const Width = 1000

// DefaultPrefix is the folder-name prefix used when none is configured.
const DefaultPrefix = "Q"

// ErrEmptyPrefix is returned by NewParser when the prefix is empty.
var ErrEmptyPrefix = errors.New("prefix must not be empty")

// Range is an inclusive identifier range [Low, High] covered by one bucket.
type Range struct {
	Low  int
	High int
}

// RangeFor returns the bucket range containing n.
//
// n must be non-negative.
func RangeFor(n int) Range {
	low := (n / Width) * Width
	return Range{Low: low, High: low + Width - 1}
}

// Contains reports whether n falls inside the range.
func (r Range) Contains(n int) bool {
	return n >= r.Low && n <= r.High
}

// Name renders the canonical bucket name for the range.
//
// Bounds are padded to a minimum of 6 digits. Seven-digit bounds are
// rendered as-is and never truncated.
func (r Range) Name(prefix string) string {
	return fmt.Sprintf("%s%06d-%s%06d", prefix, r.Low, prefix, r.High)
}

// NameFor returns the canonical bucket name for n using prefix.
func NameFor(prefix string, n int) string {
	return RangeFor(n).Name(prefix)
}

// Parser extracts numeric keys from folder names.
//
// A Parser is immutable after creation and safe for concurrent use.
type Parser struct {
	prefix    string
	key       *regexp.Regexp
	canonical *regexp.Regexp
}

// NewParser compiles a parser for the given prefix.
//
// The prefix is matched literally; regexp metacharacters are quoted.
func NewParser(prefix string) (*Parser, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}
	quoted := regexp.QuoteMeta(prefix)
	return &Parser{
		prefix:    prefix,
		key:       regexp.MustCompile(`^` + quoted + `(\d{6,7})`),
		canonical: regexp.MustCompile(`^` + quoted + `\d{6}-` + quoted + `\d{6}$`),
	}, nil
}

// Prefix returns the configured prefix.
func (p *Parser) Prefix() string {
	return p.prefix
}

// Parse returns the numeric key encoded at the start of name.
//
// The second return value is false when name does not start with the
// prefix followed by 6 or 7 digits. A miss is never an error.
func (p *Parser) Parse(name string) (int, bool) {
	m := p.key.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// BucketName returns the canonical bucket name for n.
func (p *Parser) BucketName(n int) string {
	return NameFor(p.prefix, n)
}

// IsCanonical reports whether name has the exact shape of a bucket name
// ("<prefix>dddddd-<prefix>dddddd").
func (p *Parser) IsCanonical(name string) bool {
	return p.canonical.MatchString(name)
}

// BucketNameOf returns the canonical name a folder named name would be
// cached under, if any.
//
// Canonical names are returned verbatim. Otherwise a name whose parsed key
// yields a bucket name identical to the name itself is accepted; this covers
// seven-digit buckets such as "Q1000000-Q1000999".
func (p *Parser) BucketNameOf(name string) (string, bool) {
	if p.IsCanonical(name) {
		return name, true
	}
	n, ok := p.Parse(name)
	if !ok {
		return "", false
	}
	if bname := p.BucketName(n); bname == name {
		return bname, true
	}
	return "", false
}
