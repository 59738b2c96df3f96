package smtp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sentAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBuildMessage_Headers(t *testing.T) {
	msg := string(buildMessage("noreply@cal.test", "bo@example.com", "Ana shared a calendar with you", "<p>hi</p>", sentAt))

	head, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "<p>hi</p>", body)
	assert.Contains(t, head, "Subject: Ana shared a calendar with you\r\n")
	assert.Contains(t, head, "Date: Sun, 01 Mar 2026 12:00:00 +0000\r\n")
	assert.Contains(t, head, "Content-Type: text/html")
}

func TestBuildMessage_SubjectCannotAddHeaders(t *testing.T) {
	msg := string(buildMessage("noreply@cal.test", "bo@example.com", "Ana\r\nBcc: victim@example.com shared a calendar", "", sentAt))

	head, _, _ := strings.Cut(msg, "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), line)
	}
	assert.Contains(t, head, "Subject: Ana Bcc: victim@example.com shared a calendar\r\n")
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage("noreply@cal.test", "bo@example.com", "Zoë shared a calendar", "", sentAt))
	assert.Contains(t, msg, "Subject: =?utf-8?q?")
}

func TestSendEmail_RejectsRecipientWithLineBreak(t *testing.T) {
	m := &mailer{host: "localhost", port: "1", now: time.Now}
	err := m.SendEmail("bo@example.com\r\nBcc: x@example.com", "s", "b")
	assert.ErrorContains(t, err, "invalid recipient")
}
