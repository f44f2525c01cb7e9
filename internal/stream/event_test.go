package stream

import (
	"errors"
	"reflect"
	"testing"
)

func TestParsePosition(t *testing.T) {
	cases := map[string]PositionKind{
		"earliest": Earliest,
		" Latest ": Latest,
		"oldest":   Earliest,
		"":         Latest,
	}
	for in, want := range cases {
		got, err := ParsePosition(in)
		if err != nil {
			t.Fatalf("ParsePosition(%q): %v", in, err)
		}
		if got.Kind != want {
			t.Fatalf("ParsePosition(%q) = %v, want kind %d", in, got, want)
		}
	}
	if _, err := ParsePosition("middle"); err == nil {
		t.Fatal("expected error for unknown position")
	}
}

func TestSortPartitionsNumeric(t *testing.T) {
	ids := []string{"10", "2", "0", "9", "1"}
	SortPartitions(ids)
	want := []string{"0", "1", "2", "9", "10"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
}

func TestErrorTaxonomyWrapsCause(t *testing.T) {
	cause := errors.New("request timed out")
	err := Transient(cause)
	if !IsRetryable(err) || !errors.Is(err, cause) {
		t.Fatalf("transient error lost its kind or cause: %v", err)
	}
	if IsRetryable(Rejected(cause)) {
		t.Fatal("rejected errors must not be retryable")
	}
	if !IsFatal(Unauthorized(cause)) {
		t.Fatal("unauthorized errors must be fatal")
	}
	if Transient(nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}
