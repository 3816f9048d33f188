package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioChannel sends WhatsApp messages through the Twilio Messages API.
// One form POST per message; the returned delivery status is not tracked.
type TwilioChannel struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client
	logger     *zap.Logger
}

func NewTwilioChannel(accountSID, authToken, fromNumber string, logger *zap.Logger) *TwilioChannel {
	return &TwilioChannel{
		accountSID: accountSID,
		authToken:  authToken,
		from:       fromNumber,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *TwilioChannel) Configured() bool {
	return c.accountSID != "" && c.authToken != "" && c.from != ""
}

func (c *TwilioChannel) Send(ctx context.Context, to, text string) error {
	if !c.Configured() {
		return fmt.Errorf("twilio channel not configured")
	}

	form := url.Values{}
	form.Set("From", whatsappAddr(c.from))
	form.Set("To", whatsappAddr(to))
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", twilioAPIBase, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build twilio request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Twilio send rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("to", to),
			zap.ByteString("body", body))
		return fmt.Errorf("twilio send failed with status %d", resp.StatusCode)
	}
	return nil
}

// whatsappAddr restores the transport prefix the normalizer strips.
func whatsappAddr(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}
