package gmailkit

import (
	"bytes"
	"testing"

	"github.com/jhillyerd/enmime"

	"github.com/maildock/gmailkit/internal/api"
)

func testClient(svc api.Service) *Client {
	return newClientWithService(svc, "me@example.com")
}

// rawMIME builds an RFC 2822 message body for seeding mock messages.
func rawMIME(t *testing.T, from, to, subject, body string) []byte {
	t.Helper()
	part, err := enmime.Builder().
		From("", from).
		To("", to).
		Subject(subject).
		Text([]byte(body)).
		Build()
	if err != nil {
		t.Fatalf("build test message: %v", err)
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		t.Fatalf("encode test message: %v", err)
	}
	return buf.Bytes()
}
