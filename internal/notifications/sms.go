package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const twilioBaseURL = "https://api.twilio.com/2010-04-01"

// TwilioTransport sends SMS through the Twilio Messages API.
type TwilioTransport struct {
	http       *resty.Client
	accountSID string
	from       string
	logger     *slog.Logger
}

// NewTwilioTransport returns nil unless SID, token and sender are all set.
func NewTwilioTransport(accountSID, authToken, from string, logger *slog.Logger) *TwilioTransport {
	if accountSID == "" || authToken == "" || from == "" {
		return nil
	}
	client := resty.New().
		SetBaseURL(twilioBaseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetBasicAuth(accountSID, authToken).
		SetHeader("Accept", "application/json")

	return &TwilioTransport{
		http:       client,
		accountSID: accountSID,
		from:       from,
		logger:     logger,
	}
}

// WithBaseURL points the client at another host (tests).
func (t *TwilioTransport) WithBaseURL(u string) *TwilioTransport {
	t.http.SetBaseURL(u)
	return t
}

func (t *TwilioTransport) Name() string { return "twilio" }

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Send posts the text body of msg to Twilio and returns the message SID.
func (t *TwilioTransport) Send(ctx context.Context, to string, msg Message) (string, error) {
	var (
		out     twilioMessage
		failure twilioError
	)
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   to,
			"From": t.from,
			"Body": msg.Text,
		}).
		SetResult(&out).
		SetError(&failure).
		Post(fmt.Sprintf("/Accounts/%s/Messages.json", t.accountSID))
	if err != nil {
		return "", fmt.Errorf("twilio request: %w", err)
	}
	if resp.IsError() {
		if failure.Message != "" {
			return "", fmt.Errorf("twilio returned %d: %s (code %d)", resp.StatusCode(), failure.Message, failure.Code)
		}
		return "", fmt.Errorf("twilio returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if out.ErrorCode != nil {
		return "", fmt.Errorf("twilio rejected message: %s (code %d)", out.ErrorMessage, *out.ErrorCode)
	}

	t.logger.Info("Twilio SMS sent", "to", to, "sid", out.SID, "status", out.Status)
	return out.SID, nil
}

// SMSTransport returns t as a Transport, or nil when Twilio is disabled.
func SMSTransport(t *TwilioTransport) Transport {
	if t == nil {
		return nil
	}
	return t
}
