// Package veriff is the Veriff station API client.
package veriff

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/trezcool/aeroschool/core"
	"github.com/trezcool/aeroschool/core/verification"
)

type client struct {
	baseURL    string
	apiKey     string
	secret     string
	httpClient *http.Client
}

var _ verification.Provider = (*client)(nil) // interface compliance check

func NewClient(conf *core.Config) verification.Provider {
	return newClient(conf, &http.Client{Timeout: 15 * time.Second})
}

func newClient(conf *core.Config, httpClient *http.Client) *client {
	return &client{
		baseURL:    conf.Veriff.BaseURL,
		apiKey:     conf.Veriff.APIKey,
		secret:     conf.Veriff.SharedSecret,
		httpClient: httpClient,
	}
}

type (
	person struct {
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
	}

	sessionRequest struct {
		Verification struct {
			Callback   string `json:"callback,omitempty"`
			Person     person `json:"person"`
			VendorData string `json:"vendorData"`
		} `json:"verification"`
	}
)

// CreateSession is POST /v1/sessions; the body is signed with the shared secret.
func (c *client) CreateSession(ctx context.Context, req verification.SessionRequest) (verification.ProviderSession, error) {
	var sr sessionRequest
	sr.Verification.Callback = req.Callback
	sr.Verification.Person = person{FirstName: req.FirstName, LastName: req.LastName}
	sr.Verification.VendorData = req.VendorData

	body, err := json.Marshal(sr)
	if err != nil {
		return verification.ProviderSession{}, errors.Wrap(err, "encoding session request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return verification.ProviderSession{}, errors.Wrap(err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(verification.HeaderAuthClient, c.apiKey)
	httpReq.Header.Set(verification.HeaderHMACSignature, verification.Sign(c.secret, body))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return verification.ProviderSession{}, errors.Wrap(err, "sending request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return verification.ProviderSession{}, errors.Wrap(err, "reading response")
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = string(respBody)
		}
		return verification.ProviderSession{}, errors.Errorf("veriff: %s: %s", resp.Status, msg)
	}

	res := gjson.GetManyBytes(respBody, "verification.id", "verification.url", "verification.status")
	if res[0].String() == "" {
		return verification.ProviderSession{}, errors.New("veriff: response without verification id")
	}
	return verification.ProviderSession{
		ID:     res[0].String(),
		URL:    res[1].String(),
		Status: res[2].String(),
	}, nil
}
