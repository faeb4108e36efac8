// Package quarter implements the compact quarter-key calendar used by every
// store and analytics component. A key is year*10+quarter, e.g. 20243 for 2024 Q3.
package quarter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidQuarterKey is returned for malformed or out-of-range quarter input.
var ErrInvalidQuarterKey = eris.New("quarter: invalid quarter key")

// Key is the canonical integer identity of a quarter (year*10+quarter).
type Key int

// YearQuarter is an explicit (year, quarter) pair.
type YearQuarter struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

// ToKey builds a key from its parts. It does not validate; use Parse for that.
func ToKey(year, q int) Key {
	return Key(year*10 + q)
}

// Parse splits a key into year and quarter.
func Parse(k Key) (YearQuarter, error) {
	year, q := int(k)/10, int(k)%10
	if q < 1 || q > 4 || year <= 0 {
		return YearQuarter{}, eris.Wrapf(ErrInvalidQuarterKey, "quarter: parse %d", int(k))
	}
	return YearQuarter{Year: year, Quarter: q}, nil
}

// MustParse is Parse for keys known to be valid (constants, test fixtures).
func MustParse(k Key) YearQuarter {
	yq, err := Parse(k)
	if err != nil {
		panic(err)
	}
	return yq
}

// Valid reports whether the key has a quarter segment in 1..4.
func (k Key) Valid() bool {
	_, err := Parse(k)
	return err == nil
}

// Offset adds n quarters to k. The key must be valid.
func (k Key) Offset(n int) Key {
	return Offset(MustParse(k), n).Key()
}

// String renders the key as "2024Q3".
func (k Key) String() string {
	yq, err := Parse(k)
	if err != nil {
		return strconv.Itoa(int(k))
	}
	return yq.String()
}

// Key returns the canonical key for the pair.
func (yq YearQuarter) Key() Key {
	return ToKey(yq.Year, yq.Quarter)
}

func (yq YearQuarter) String() string {
	return fmt.Sprintf("%dQ%d", yq.Year, yq.Quarter)
}

// Offset adds n quarters (n may be negative), carrying the year.
func Offset(yq YearQuarter, n int) YearQuarter {
	idx := yq.Year*4 + (yq.Quarter - 1) + n
	year := idx / 4
	q := idx % 4
	if q < 0 {
		q += 4
		year--
	}
	return YearQuarter{Year: year, Quarter: q + 1}
}

// Diff returns the number of quarters from a to b (b - a).
func Diff(a, b Key) int {
	ya, yb := MustParse(a), MustParse(b)
	return (yb.Year*4 + yb.Quarter) - (ya.Year*4 + ya.Quarter)
}

// Range enumerates keys from..to inclusive. Empty when from > to.
func Range(from, to Key) []Key {
	n := Diff(from, to)
	if n < 0 {
		return nil
	}
	keys := make([]Key, 0, n+1)
	for i := 0; i <= n; i++ {
		keys = append(keys, from.Offset(i))
	}
	return keys
}

// StartDate returns the first calendar day of the quarter (UTC).
func StartDate(yq YearQuarter) time.Time {
	month := time.Month((yq.Quarter-1)*3 + 1)
	return time.Date(yq.Year, month, 1, 0, 0, 0, 0, time.UTC)
}

// EndDate returns the last calendar day of the quarter (UTC).
func EndDate(yq YearQuarter) time.Time {
	return StartDate(Offset(yq, 1)).AddDate(0, 0, -1)
}

var (
	labelled = regexp.MustCompile(`^(\d{4})\s*[-_ ]?\s*[Qq]\s*([1-4])$`)
	numeric  = regexp.MustCompile(`^\d{5,6}$`)
)

// ParseText normalizes free-text quarter input. Accepted forms:
//
//	20243     canonical
//	202403    legacy six-digit (YYYYQQ), leading zero of the quarter dropped
//	2024Q3    labelled, also 2024-Q3 and 2024 q3
func ParseText(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if m := labelled.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return ToKey(year, q), nil
	}

	if !numeric.MatchString(s) {
		return 0, eris.Wrapf(ErrInvalidQuarterKey, "quarter: parse text %q", s)
	}
	if len(s) == 6 && s[4] == '0' {
		s = s[:4] + s[5:]
	}
	if len(s) != 5 {
		return 0, eris.Wrapf(ErrInvalidQuarterKey, "quarter: parse text %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Wrapf(ErrInvalidQuarterKey, "quarter: parse text %q", s)
	}
	k := Key(n)
	if _, err := Parse(k); err != nil {
		return 0, err
	}
	return k, nil
}
