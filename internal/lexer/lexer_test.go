package lexer

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func rowsAsStrings(t *testing.T, rows [][][]byte) [][]string {
	t.Helper()
	out := make([][]string, len(rows))
	for i, row := range rows {
		s := make([]string, len(row))
		for j, v := range row {
			s[j] = string(v)
		}
		out[i] = s
	}
	return out
}

func TestLexSimpleUnquoted(t *testing.T) {
	path := writeTemp(t, "id,name\r\n1,alice\r\n2,bob\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"id", "name"}, {"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
}

func TestLexQuotedWithEmbeddedQuote(t *testing.T) {
	path := writeTemp(t, `"id","name"` + "\r\n" + `"1","ali""ce"` + "\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"id", "name"}, {"1", `ali"ce`}}
	assertRowsEqual(t, got, want)
}

func TestLexQuotedWithComma(t *testing.T) {
	path := writeTemp(t, `"a,b","c"` + "\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"a,b", "c"}}
	assertRowsEqual(t, got, want)
}

func TestLexPrePaddingToleratesSpaces(t *testing.T) {
	// Block padding: spaces before a row, as the repadder would leave
	// between a row's terminator and the next block boundary.
	path := writeTemp(t, "  1,alice\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}}
	assertRowsEqual(t, got, want)
}

func TestLexEndPaddingAfterQuotedValue(t *testing.T) {
	path := writeTemp(t, `"1"  ,"alice"` + "\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}}
	assertRowsEqual(t, got, want)
}

func TestLexBareLFTreatedAsRowEnd(t *testing.T) {
	path := writeTemp(t, "1,alice\n2,bob\r\n")

	var warnings int
	_, rows, err := Lex(path, Options{Warn: func(string, ...any) { warnings++ }})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
	if warnings == 0 {
		t.Error("expected a warning for the bare LF")
	}
}

func TestLexUnterminatedValueAtEOFIsDropped(t *testing.T) {
	// No prior comma, no terminator: the EOF flush gate mirrors the
	// source's `if row:` check and silently drops this.
	path := writeTemp(t, "justsomevalue")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0 (trailing unterminated value should be dropped)", len(rows))
	}
}

func TestLexFlushesFinalRowWithoutTrailingNewline(t *testing.T) {
	path := writeTemp(t, "1,alice\r\n2,bob")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
}

func TestLexUnquotedValueEndsOnCRLF(t *testing.T) {
	// stateInUnquoted must treat CR/LF as a terminator, not as a literal
	// byte appended to the field — otherwise every unquoted row merges
	// into the next.
	path := writeTemp(t, "id,name\r\n1,alice\r\n2,bob\r\n")

	_, rows, err := Lex(path, Options{Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"id", "name"}, {"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
}

func TestLexUnquotedValueEndsOnBareLF(t *testing.T) {
	path := writeTemp(t, "1,alice\n2,bob\r\n")

	var warnings int
	_, rows, err := Lex(path, Options{Warn: func(string, ...any) { warnings++ }})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
	if warnings == 0 {
		t.Error("expected a warning for the bare LF")
	}
}

func TestLexMalformedAfterQuotedValue(t *testing.T) {
	path := writeTemp(t, `"1"x,"alice"` + "\r\n")

	_, _, err := Lex(path, Options{Warn: Discard})
	if err == nil {
		t.Fatal("expected a malformed CSV error")
	}
	var merr *MalformedCSVError
	if !asMalformed(err, &merr) {
		t.Errorf("error is %T (%v), want *MalformedCSVError", err, err)
	}
}

func TestLexMalformedCRWithoutLF(t *testing.T) {
	path := writeTemp(t, "1,alice\rX")

	_, _, err := Lex(path, Options{Warn: Discard})
	if err == nil {
		t.Fatal("expected a malformed CSV error")
	}
}

func TestLexRowLimit(t *testing.T) {
	path := writeTemp(t, "1,a\r\n2,b\r\n3,c\r\n")

	_, rows, err := Lex(path, Options{RowLimit: 2, Warn: Discard})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
}

func TestLexStartOffset(t *testing.T) {
	content := "id,name\r\n1,alice\r\n2,bob\r\n"
	path := writeTemp(t, content)

	headerEnd, headerRows, err := Lex(path, Options{RowLimit: 1, Warn: Discard})
	if err != nil {
		t.Fatalf("Lex header: %v", err)
	}
	if len(headerRows) != 1 {
		t.Fatalf("got %d header rows, want 1", len(headerRows))
	}

	_, rows, err := Lex(path, Options{StartOffset: headerEnd + 1, Warn: Discard})
	if err != nil {
		t.Fatalf("Lex from offset: %v", err)
	}
	got := rowsAsStrings(t, rows)
	want := [][]string{{"1", "alice"}, {"2", "bob"}}
	assertRowsEqual(t, got, want)
}

func TestLexOnRowSinkCanStopEarly(t *testing.T) {
	path := writeTemp(t, "1,a\r\n2,b\r\n3,c\r\n")

	var seen []string
	_, _, err := Lex(path, Options{
		Warn: Discard,
		OnRow: RowSinkFunc(func(values [][]byte, _ int64) bool {
			seen = append(seen, string(values[0]))
			return string(values[0]) != "2"
		}),
	})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	if len(seen) != 2 || seen[0] != "1" || seen[1] != "2" {
		t.Errorf("seen = %v, want [1 2]", seen)
	}
}

func TestLexOnValueCalledPerField(t *testing.T) {
	path := writeTemp(t, "1,alice\r\n")

	var values []string
	_, _, err := Lex(path, Options{
		Warn:    Discard,
		OnValue: func(v []byte) { values = append(values, string(v)) },
	})
	if err != nil {
		t.Fatalf("Lex: %v", err)
	}
	want := []string{"1", "alice"}
	assertRowsEqual(t, [][]string{values}, [][]string{want})
}

func assertRowsEqual(t *testing.T, got, want [][]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d: got=%v want=%v", len(got), len(want), got, want)
	}
	for i := range got {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("row %d: got %v, want %v", i, got[i], want[i])
		}
		for j := range got[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("row %d col %d: got %q, want %q", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func asMalformed(err error, target **MalformedCSVError) bool {
	if m, ok := err.(*MalformedCSVError); ok {
		*target = m
		return true
	}
	return false
}
