package maildrop

import (
	"strings"
	"testing"
)

func TestParseEmailValid(t *testing.T) {
	raw := "From: Admin@Example.com\r\nSubject: Orders\r\nContent-Type: text/plain; charset=utf-8\r\n\r\nHow many orders shipped yesterday?"

	email, err := ParseEmail([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if email.From != "admin@example.com" {
		t.Errorf("From = %q", email.From)
	}
	if email.Subject != "Orders" {
		t.Errorf("Subject = %q", email.Subject)
	}
	if got := email.Question(); got != "How many orders shipped yesterday?" {
		t.Errorf("Question = %q", got)
	}
}

func TestParseEmailNamedFrom(t *testing.T) {
	raw := "From: Admin User <admin@example.com>\r\nSubject: test\r\n\r\nbody"

	email, err := ParseEmail([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if email.From != "admin@example.com" {
		t.Errorf("From = %q, want just the address", email.From)
	}
}

func TestParseEmailRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing from", "Subject: No from\r\n\r\nbody"},
		{"bad from", "From: not an address\r\n\r\nbody"},
		{"html", "From: a@b.com\r\nContent-Type: text/html\r\n\r\n<p>hi</p>"},
		{"multipart", "From: a@b.com\r\nContent-Type: multipart/mixed; boundary=x\r\n\r\n--x--"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEmail([]byte(tt.raw)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestQuestionDropsSignatureAndQuotes(t *testing.T) {
	raw := "From: a@b.com\r\nSubject: Re: totals\r\n\r\n" +
		"Which customers\r\nspent the most?\r\n\r\n" +
		"On Mon, Jan 5, Bob wrote:\r\n> earlier message\r\n> more\r\n" +
		"-- \r\nAlice\r\n"

	email, err := ParseEmail([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if got := email.Question(); got != "Which customers spent the most?" {
		t.Errorf("Question = %q", got)
	}
}

func TestQuestionFallsBackToSubject(t *testing.T) {
	e := &Email{Subject: "Fwd: RE: top 5 products by revenue"}
	if got := e.Question(); got != "top 5 products by revenue" {
		t.Errorf("Question = %q", got)
	}
}

func TestQuestionBounded(t *testing.T) {
	e := &Email{Body: strings.Repeat("why ", 500)}
	if got := len(e.Question()); got != maxQuestion {
		t.Errorf("len = %d, want %d", got, maxQuestion)
	}
}
