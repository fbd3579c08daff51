// Package enginebridge implements port.WalletEngine against the engine sidecar's HTTP surface.
package enginebridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"balance_reconciler/internal/app/port"
	"balance_reconciler/internal/domain/entity"
	"balance_reconciler/internal/pkg/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the bridge client.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimit    int
	BurstLimit   int
	WalletSource string
	// Dial overrides the transport, e.g. with an in-memory listener.
	Dial fasthttp.DialFunc
}

// Client talks to the engine sidecar.
type Client struct {
	client       *fasthttp.Client
	baseURL      string
	timeout      time.Duration
	walletSource string
	limiter      *rate.Limiter
	logger       *zap.Logger
}

var _ port.WalletEngine = (*Client)(nil)

// NewClient creates a bridge client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		client:       &fasthttp.Client{Dial: opts.Dial},
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		timeout:      opts.Timeout,
		walletSource: opts.WalletSource,
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger.Named("EngineBridgeClient"),
	}
}

// call posts params to /rpc/{method} and decodes the result into out (which may be nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", method, err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: encode params: %w", method, err)
	}
	requestURL := c.baseURL + "/rpc/" + method

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(requestURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(body)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	started := time.Now()
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.DoTimeout(req, resp, c.timeout)
	}
	metrics.EngineRequestDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
	if err != nil {
		c.logger.Error("Engine bridge request failed", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("%s: request to %s: %w", method, requestURL, err)
	}

	rawBody := resp.Body()
	var envelope rpcResponse
	decodeErr := json.Unmarshal(rawBody, &envelope)

	if envelope.Error != nil {
		c.logger.Debug("Engine reported an error",
			zap.String("method", method),
			zap.Int("statusCode", resp.StatusCode()),
			zap.String("message", envelope.Error.Message))
		return &EngineError{Method: method, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		c.logger.Error("Engine bridge returned non-OK status",
			zap.String("method", method),
			zap.Int("statusCode", resp.StatusCode()),
			zap.ByteString("responseBody", rawBody))
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode(), string(rawBody))
	}
	if decodeErr != nil {
		return fmt.Errorf("%s: decode response: %w", method, decodeErr)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// EngineError is an error reported by the engine itself rather than by the transport.
type EngineError struct {
	Method  string
	Code    int
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s", e.Method, e.Message)
}

// IsEngineError reports whether err came from the engine.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}

func (c *Client) IsStarted(ctx context.Context) bool {
	var started bool
	if err := c.call(ctx, methodIsStarted, struct{}{}, &started); err != nil {
		c.logger.Debug("Engine start state unknown, assuming not started", zap.Error(err))
		return false
	}
	return started
}

func (c *Client) Start(ctx context.Context) error {
	return c.call(ctx, methodStart, startParams{WalletSource: c.walletSource}, nil)
}

func (c *Client) SetValidationBypass(ctx context.Context, network string, bypass bool) error {
	return c.call(ctx, methodSetValidationBypass, bypassParams{Network: network, Bypass: bypass}, nil)
}

func (c *Client) RegisterProvider(ctx context.Context, network string, cfg entity.ProviderConfig) error {
	return c.call(ctx, methodLoadProvider, providerParams{Network: network, Config: cfg}, nil)
}

func (c *Client) QueryProvider(ctx context.Context, network string) (entity.ProviderStatus, error) {
	status := entity.ProviderStatus{Network: network}
	if err := c.call(ctx, methodGetProvider, networkParams{Network: network}, &status); err != nil {
		return entity.ProviderStatus{Network: network}, err
	}
	if status.Network == "" {
		status.Network = network
	}
	return status, nil
}

func (c *Client) LoadWalletByID(ctx context.Context, args ...string) (string, error) {
	var info walletInfo
	if err := c.call(ctx, methodLoadWalletByID, argsParams{Args: args}, &info); err != nil {
		return "", err
	}
	return info.ID, nil
}

func (c *Client) CreateWallet(ctx context.Context, secretMaterial, mnemonic string) (string, error) {
	var info walletInfo
	if err := c.call(ctx, methodCreateWallet, createWalletParams{EncryptionKey: secretMaterial, Mnemonic: mnemonic}, &info); err != nil {
		return "", err
	}
	return info.ID, nil
}

func (c *Client) DeriveAddress(ctx context.Context, walletID string) (string, error) {
	var address string
	if err := c.call(ctx, methodGetAddress, walletParams{WalletID: walletID}, &address); err != nil {
		return "", err
	}
	return address, nil
}

func (c *Client) RefreshBalances(ctx context.Context, walletIDs []string) error {
	return c.call(ctx, methodRefreshBalances, walletsParams{WalletIDs: walletIDs}, nil)
}
