package mail

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// No embeddable fake SMTP server exists in the retrieval pack's
// manifests, so this only exercises the error-wrapping path against a
// connection that is guaranteed to be refused; the happy path is
// grounded on go-mail's own documented DialAndSendWithContext contract.
func TestSend_ConnectionRefusedIsWrapped(t *testing.T) {
	client := NewClient("127.0.0.1", 1, "user", "pass", "noreply@elifesciences.org")

	err := client.Send(context.Background(), []string{"editor@elifesciences.org"}, "subject", "body")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mail:")
}

func TestSend_InvalidFromAddressIsRejectedBeforeDialing(t *testing.T) {
	client := NewClient("127.0.0.1", 1, "user", "pass", "not-an-email")

	err := client.Send(context.Background(), []string{"editor@elifesciences.org"}, "subject", "body")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "set from")
}
