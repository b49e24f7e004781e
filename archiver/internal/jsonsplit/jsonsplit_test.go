package jsonsplit

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestSplit_CountAndOrder(t *testing.T) {
	for _, n := range []int{1, 2, 7, 50} {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&sb, "{\"i\":%d,\n\"nested\":{\"x\":\n[1,{\"y\":%d}]}}", i, i)
			sb.WriteString(strings.Repeat("\n", i%3))
		}

		got, err := Split(sb.String())
		if err != nil {
			t.Fatalf("n=%d: Split: %v", n, err)
		}
		if len(got) != n {
			t.Fatalf("n=%d: got %d values, want %d", n, len(got), n)
		}
		for i, v := range got {
			if v.Get("i").Int() != int64(i) {
				t.Errorf("n=%d: value %d has i=%d", n, i, v.Get("i").Int())
			}
			if v.Get("nested.x.1.y").Int() != int64(i) {
				t.Errorf("n=%d: value %d nested y=%s", n, i, v.Get("nested.x.1.y").Raw)
			}
		}
	}
}

func TestSplit_UnsafeIntegerBecomesString(t *testing.T) {
	got, err := Split(`{"mediaId":18682964743163002881,"small":123456789012345,"edge":9007199254740991,"over":9007199254740992}`)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	v := got[0]

	if id := v.Get("mediaId"); id.Type != gjson.String || id.String() != "18682964743163002881" {
		t.Errorf("mediaId: type=%v value=%q, want string of original digits", id.Type, id.String())
	}
	if small := v.Get("small"); small.Type != gjson.Number || small.Int() != 123456789012345 {
		t.Errorf("small: type=%v raw=%s, want number", small.Type, small.Raw)
	}
	if edge := v.Get("edge"); edge.Type != gjson.Number {
		t.Errorf("edge: type=%v, want number (2^53-1 is exact)", edge.Type)
	}
	if over := v.Get("over"); over.Type != gjson.String || over.String() != "9007199254740992" {
		t.Errorf("over: type=%v value=%q", over.Type, over.String())
	}
}

func TestSplit_NotObject(t *testing.T) {
	for _, body := range []string{"", "[]", " {}", "\n{}", "data: {}"} {
		if _, err := Split(body); !errors.Is(err, ErrNotObject) {
			t.Errorf("Split(%q): err=%v, want ErrNotObject", body, err)
		}
	}
}

func TestSplit_MalformedFailsWholeBody(t *testing.T) {
	tests := []string{
		`{"a":1}{"b":}`,
		`{"a":1}{"b":2`,
		`{"a":1}x{"b":2}`,
		`{"a":1}}`,
	}
	for _, body := range tests {
		got, err := Split(body)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Split(%q): err=%v, want ErrMalformed", body, err)
		}
		if got != nil {
			t.Errorf("Split(%q): got %d values on failure, want none", body, len(got))
		}
	}
}

func TestSplit_BracesInsideStrings(t *testing.T) {
	got, err := Split(`{"query":"a {curly} cat \"}\" here"}{"n":2}`)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d values, want 2", len(got))
	}
	if q := got[0].Get("query").String(); q != `a {curly} cat "}" here` {
		t.Errorf("query = %q", q)
	}
}

func TestSplit_WhitespaceBetweenObjects(t *testing.T) {
	got, err := Split("{\"a\":1} \r\n\t{\"a\":2}\n")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d values, want 2", len(got))
	}
}

func TestQuoteUnsafeIntegers(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a": 99999999999999999}`, `{"a": "99999999999999999"}`},
		{`{"a":1234567890123456}`, `{"a":1234567890123456}`},
		{`{"a":99999999999999999.5}`, `{"a":99999999999999999.5}`},
		{`{"a":99999999999999999e2}`, `{"a":99999999999999999e2}`},
		{`{"s":"x:99999999999999999"}`, `{"s":"x:99999999999999999"}`},
		{`{"a":[99999999999999999]}`, `{"a":[99999999999999999]}`},
		{`{"a":-99999999999999999}`, `{"a":-99999999999999999}`},
	}
	for _, tt := range tests {
		if got := QuoteUnsafeIntegers(tt.in); got != tt.want {
			t.Errorf("QuoteUnsafeIntegers(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
