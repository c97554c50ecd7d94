// Package khqr talks to the Bakong open API to verify KHQR payments by the
// MD5 hash printed in the QR payload.
package khqr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("khqr client not configured")
	ErrUnauthorized  = errors.New("khqr token rejected")
)

// Verifier checks whether a KHQR payment identified by its MD5 hash has been
// received.
type Verifier interface {
	CheckByMD5(ctx context.Context, md5 string) (*Transaction, error)
}

// Transaction is the subset of the Bakong transaction record the engine uses.
type Transaction struct {
	Hash        string  `json:"hash"`
	FromAccount string  `json:"fromAccountId"`
	ToAccount   string  `json:"toAccountId"`
	Currency    string  `json:"currency"`
	Amount      float64 `json:"amount"`
	ExternalRef string  `json:"externalRef"`
}

type apiResponse struct {
	ResponseCode    int          `json:"responseCode"`
	ResponseMessage string       `json:"responseMessage"`
	Data            *Transaction `json:"data"`
}

type renewResponse struct {
	ResponseCode int `json:"responseCode"`
	Data         struct {
		Token string `json:"token"`
	} `json:"data"`
}

type Client struct {
	http   *resty.Client
	email  string
	logger *zap.Logger

	mu    sync.Mutex
	token string
}

func NewClient(baseURL, email, token string, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   http,
		email:  email,
		logger: logger,
		token:  token,
	}
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// renewToken exchanges the registered email for a fresh bearer token. Bakong
// tokens expire every 90 days.
func (c *Client) renewToken(ctx context.Context) error {
	var renewed renewResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": c.email}).
		SetResult(&renewed).
		Post("/v1/renew_token")
	if err != nil {
		return err
	}
	if resp.IsError() || renewed.Data.Token == "" {
		return fmt.Errorf("%w: renew failed with status %d", ErrUnauthorized, resp.StatusCode())
	}

	c.mu.Lock()
	c.token = renewed.Data.Token
	c.mu.Unlock()
	c.logger.Info("bakong token renewed")
	return nil
}

func (c *Client) CheckByMD5(ctx context.Context, md5 string) (*Transaction, error) {
	tx, err := c.check(ctx, md5)
	if errors.Is(err, ErrUnauthorized) {
		if renewErr := c.renewToken(ctx); renewErr != nil {
			return nil, renewErr
		}
		return c.check(ctx, md5)
	}
	return tx, err
}

func (c *Client) check(ctx context.Context, md5 string) (*Transaction, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.currentToken()).
		SetBody(map[string]string{"md5": md5}).
		SetResult(&out).
		Post("/v1/check_transaction_by_md5")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() == 401 {
		return nil, ErrUnauthorized
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bakong returned status %d", resp.StatusCode())
	}
	if out.ResponseCode != 0 || out.Data == nil {
		// Code 1 means the transaction has not arrived yet; not an error.
		return nil, nil
	}
	return out.Data, nil
}
