package engine

import (
	"errors"
	"testing"
)

type stubEngine struct {
	text string
	err  error
}

func (s *stubEngine) Tokenize(string, bool) ([]Token, error) { return nil, nil }
func (s *stubEngine) Detokenize(TokenID) (string, error)     { return s.text, s.err }
func (s *stubEngine) NewContext(int, int) (Context, error)   { return nil, ErrNotLoaded }
func (s *stubEngine) Close() error                           { return nil }

func TestTokenText(t *testing.T) {
	if got := TokenText(&stubEngine{text: " cat"}, 7); got != " cat" {
		t.Errorf("got %q, want %q", got, " cat")
	}
}

func TestTokenTextPlaceholder(t *testing.T) {
	e := &stubEngine{err: errors.New("unmapped")}
	if got := TokenText(e, 1234); got != "[1234]" {
		t.Errorf("got %q, want %q", got, "[1234]")
	}
}
