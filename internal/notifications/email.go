package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	gomail "gopkg.in/mail.v2"
)

// Transport delivers rendered content to one recipient and returns the
// provider's message id.
type Transport interface {
	Name() string
	Send(ctx context.Context, to string, msg Message) (string, error)
}

// --------------------------------------------------------------------------
// SMTP
// --------------------------------------------------------------------------

// SMTPTransport sends email through an SMTP relay.
type SMTPTransport struct {
	dialer *gomail.Dialer
	from   string
	domain string
	logger *slog.Logger
}

// NewSMTPTransport returns nil when host is empty (SMTP disabled).
func NewSMTPTransport(host string, port int, user, password, from string, logger *slog.Logger) *SMTPTransport {
	if host == "" {
		return nil
	}
	d := gomail.NewDialer(host, port, user, password)
	d.Timeout = 15 * time.Second
	return &SMTPTransport{
		dialer: d,
		from:   from,
		domain: senderDomain(from, host),
		logger: logger,
	}
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send delivers msg. The Message-Id is generated locally and returned as the
// provider id.
func (t *SMTPTransport) Send(ctx context.Context, to string, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.domain)

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-Id", id)
	if msg.HTML != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/plain", msg.Text)
	}

	start := time.Now()
	if err := t.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	t.logger.Info("SMTP email sent", "to", to, "message_id", id, "duration_ms", time.Since(start).Milliseconds())
	return id, nil
}

func senderDomain(from, host string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndexByte(addr.Address, '@'); at >= 0 {
			return addr.Address[at+1:]
		}
	}
	return host
}

// --------------------------------------------------------------------------
// Brevo
// --------------------------------------------------------------------------

const brevoURL = "https://api.brevo.com/v3/smtp/email"

// BrevoTransport sends email via the Brevo (formerly Sendinblue) API.
type BrevoTransport struct {
	apiKey   string
	fromAddr string
	fromName string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	delay    time.Duration
}

// NewBrevoTransport returns nil when apiKey is empty (Brevo disabled).
func NewBrevoTransport(apiKey, from string, logger *slog.Logger) *BrevoTransport {
	if apiKey == "" {
		return nil
	}
	fromAddr, fromName := from, brand
	if addr, err := mail.ParseAddress(from); err == nil {
		fromAddr = addr.Address
		if addr.Name != "" {
			fromName = addr.Name
		}
	}
	return &BrevoTransport{
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		endpoint: brevoURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		delay:    time.Second,
	}
}

// WithEndpoint overrides the API URL (tests).
func (b *BrevoTransport) WithEndpoint(u string) *BrevoTransport {
	b.endpoint = u
	b.delay = time.Millisecond
	return b
}

func (b *BrevoTransport) Name() string { return "brevo" }

type brevoSendRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTML        string         `json:"htmlContent,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts msg to Brevo, retrying network errors and 5xx responses.
func (b *BrevoTransport) Send(ctx context.Context, to string, msg Message) (string, error) {
	jsonData, err := json.Marshal(brevoSendRequest{
		Sender:      brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:          []brevoContact{{Email: to}},
		Subject:     msg.Subject,
		HTML:        msg.HTML,
		TextContent: msg.Text,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var messageID string
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("api-key", b.apiKey)

			start := time.Now()
			resp, err := b.client.Do(req)
			if err != nil {
				b.logger.Warn("Brevo API request failed, will retry", "to", to, "error", err)
				return err
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

			switch {
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				b.logger.Warn("Brevo API returned retryable status", "status_code", resp.StatusCode, "to", to)
				return fmt.Errorf("brevo returned %d: %s", resp.StatusCode, truncate(string(body), 200))
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return retry.Unrecoverable(fmt.Errorf("brevo returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
			}

			var out brevoSendResponse
			if err := json.Unmarshal(body, &out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode brevo response: %w", err))
			}
			messageID = out.MessageID
			b.logger.Info("Brevo email sent", "to", to, "message_id", messageID,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(b.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(b.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo email send after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", err
	}
	return messageID, nil
}

// EmailTransport picks the configured email transport: SMTP first, then
// Brevo. Returns nil when neither is configured.
func EmailTransport(smtp *SMTPTransport, brevo *BrevoTransport) Transport {
	if smtp != nil {
		return smtp
	}
	if brevo != nil {
		return brevo
	}
	return nil
}
