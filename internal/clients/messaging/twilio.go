package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tripwatch/server/internal/lib/dispatch"
)

const twilioBaseURL = "https://api.twilio.com"

// Twilio sends SMS through the Twilio Messages REST resource.
type Twilio struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	doer       HTTPDoer
}

// NewTwilio creates an SMS provider. An empty baseURL uses the public API.
func NewTwilio(accountSID, authToken, from, baseURL string, doer HTTPDoer) *Twilio {
	if baseURL == "" {
		baseURL = twilioBaseURL
	}
	return &Twilio{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    strings.TrimRight(baseURL, "/"),
		doer:       doer,
	}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, address, text string) error {
	form := url.Values{}
	form.Set("To", address)
	form.Set("From", t.from)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.doer.Do(req)
	if err != nil {
		return fmt.Errorf("sms: %v: %w", err, dispatch.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		var apiErr twilioError
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Message != "" {
			return statusError("sms", resp.StatusCode, fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message))
		}
		return statusError("sms", resp.StatusCode, string(b))
	}
	return nil
}
