// Package jsonsplit parses response bodies made of back-to-back JSON objects,
// the shape of the Grok completion stream once it has been delivered in one
// piece. Integer literals too large for a float64 are quoted before parsing so
// that media ids survive as exact decimal strings.
package jsonsplit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// MaxSafeInteger is the largest integer a float64 represents exactly (2^53-1).
const MaxSafeInteger = 1<<53 - 1

// minQuotedDigits is the shortest literal that can exceed MaxSafeInteger.
const minQuotedDigits = 16

var (
	// ErrNotObject is returned when the body does not start with '{'.
	ErrNotObject = errors.New("jsonsplit: body does not start with '{'")
	// ErrMalformed is returned when a block is not valid JSON or the body
	// ends inside an object.
	ErrMalformed = errors.New("jsonsplit: malformed block")
)

// Split returns one parsed value per top-level object in body, in input order.
// Newlines are dropped everywhere; other whitespace between objects is ignored.
// Any malformed block fails the whole body.
func Split(body string) ([]gjson.Result, error) {
	if !strings.HasPrefix(body, "{") {
		return nil, ErrNotObject
	}

	var (
		out      []gjson.Result
		buf      strings.Builder
		depth    int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c == '\n' {
			continue
		}
		if depth == 0 && c != '{' {
			if isSpace(c) {
				continue
			}
			return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrMalformed, c, i)
		}
		buf.WriteByte(c)

		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				v, err := parseBlock(buf.String())
				if err != nil {
					return nil, fmt.Errorf("block %d: %w", len(out), err)
				}
				out = append(out, v)
				buf.Reset()
			}
		}
	}
	if buf.Len() > 0 {
		return nil, fmt.Errorf("%w: body ends inside an object", ErrMalformed)
	}
	return out, nil
}

func parseBlock(block string) (gjson.Result, error) {
	block = QuoteUnsafeIntegers(block)
	if !gjson.Valid(block) {
		return gjson.Result{}, ErrMalformed
	}
	return gjson.Parse(block), nil
}

// QuoteUnsafeIntegers rewrites every colon-prefixed integer literal of 16 or
// more digits whose value exceeds MaxSafeInteger into a quoted string of the
// same digits. String contents are never touched.
func QuoteUnsafeIntegers(s string) string {
	var (
		b        strings.Builder
		inString bool
		escaped  bool
	)
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
		if c != ':' {
			continue
		}

		j := i + 1
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		k := j
		for k < len(s) && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		b.WriteString(s[i+1 : j])
		digits := s[j:k]
		if len(digits) >= minQuotedDigits && !continuesNumber(s, k) && !isSafeInteger(digits) {
			b.WriteByte('"')
			b.WriteString(digits)
			b.WriteByte('"')
		} else {
			b.WriteString(digits)
		}
		i = k - 1
	}
	return b.String()
}

func isSafeInteger(digits string) bool {
	n, err := strconv.ParseUint(digits, 10, 64)
	return err == nil && n <= MaxSafeInteger
}

// continuesNumber reports whether the literal ending at k has a fraction or
// exponent, in which case it is not an integer and is left alone.
func continuesNumber(s string, k int) bool {
	if k >= len(s) {
		return false
	}
	switch s[k] {
	case '.', 'e', 'E':
		return true
	}
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
