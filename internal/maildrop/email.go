package maildrop

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
)

// maxQuestion bounds the question taken from one message.
const maxQuestion = 1000

// Email holds extracted fields from a raw email.
type Email struct {
	From    string
	Subject string
	Body    string
}

// ParseEmail extracts sender, subject, and plain-text body from a raw email.
// Multipart and HTML messages are rejected.
func ParseEmail(raw []byte) (*Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse email: %w", err)
	}

	from := msg.Header.Get("From")
	if from == "" {
		return nil, fmt.Errorf("email missing From header")
	}
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, fmt.Errorf("invalid From address: %w", err)
	}

	if ct := msg.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil {
			switch {
			case strings.HasPrefix(mediaType, "multipart/"):
				return nil, fmt.Errorf("multipart emails are not supported")
			case mediaType != "text/plain":
				return nil, fmt.Errorf("%s emails are not supported", mediaType)
			}
		}
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	return &Email{
		From:    strings.ToLower(addr.Address),
		Subject: strings.TrimSpace(subject),
		Body:    cleanBody(string(body)),
	}, nil
}

// Question is the body, or the subject when the body is empty, collapsed
// to one line and bounded.
func (e *Email) Question() string {
	q := e.Body
	if q == "" {
		q = stripReplyPrefix(e.Subject)
	}
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > maxQuestion {
		q = q[:maxQuestion]
	}
	return q
}

// cleanBody drops the signature, quoted lines and the attribution line
// above a quote.
func cleanBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if i := strings.Index(body, "\n-- \n"); i >= 0 {
		body = body[:i]
	} else if strings.HasPrefix(body, "-- \n") {
		return ""
	}

	var kept []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripReplyPrefix(subject string) string {
	for {
		lower := strings.ToLower(subject)
		switch {
		case strings.HasPrefix(lower, "re:"), strings.HasPrefix(lower, "fw:"):
			subject = strings.TrimSpace(subject[3:])
		case strings.HasPrefix(lower, "fwd:"):
			subject = strings.TrimSpace(subject[4:])
		default:
			return subject
		}
	}
}
