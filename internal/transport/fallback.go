package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loomline-systems/loomline/internal/events"
	"github.com/loomline-systems/loomline/internal/logging"
	"github.com/loomline-systems/loomline/internal/metrics"
	"github.com/loomline-systems/loomline/internal/webhook"
)

// ErrNoEndpoint indicates the target module has no configured receive endpoint.
var ErrNoEndpoint = errors.New("no fallback endpoint configured")

const receivePath = "/api/v1/events/receive"

// FallbackSender delivers envelopes directly to a module's HTTP receive
// endpoint when the broker path yields no acknowledgment. Each delivery is
// retried with exponential backoff up to the configured attempt limit.
type FallbackSender struct {
	endpoints map[string]string
	signer    *webhook.TokenSigner
	client    *http.Client
	attempts  int
	initial   time.Duration
	logger    *logging.Logger
}

// FallbackConfig holds direct-delivery settings.
type FallbackConfig struct {
	// Endpoints maps module name to base URL, e.g. "finance" -> "http://finance:8080".
	Endpoints map[string]string

	// Attempts is the total number of delivery attempts per endpoint.
	Attempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// Timeout bounds each individual HTTP request.
	Timeout time.Duration
}

// NewFallbackSender creates a sender for direct envelope delivery.
func NewFallbackSender(cfg FallbackConfig, signer *webhook.TokenSigner, logger *logging.Logger) *FallbackSender {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	initial := cfg.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &FallbackSender{
		endpoints: cfg.Endpoints,
		signer:    signer,
		client:    &http.Client{Timeout: timeout},
		attempts:  attempts,
		initial:   initial,
		logger:    logger,
	}
}

// Send posts the envelope to the module's receive endpoint. Client errors
// (4xx) are permanent; server errors and network failures are retried.
func (s *FallbackSender) Send(ctx context.Context, module string, env *events.Envelope) error {
	endpoint, ok := s.endpoints[module]
	if !ok {
		return fmt.Errorf("%w for module %s", ErrNoEndpoint, module)
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	operation := func() error {
		metrics.FallbackAttempts.Inc()
		return s.post(ctx, endpoint, module, data)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.initial
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.attempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("direct delivery to %s failed: %w", module, err)
	}

	s.logger.InfoContext(ctx, "Envelope delivered via fallback endpoint",
		"event_id", env.ID,
		"type", env.Type,
		"module", module)
	return nil
}

func (s *FallbackSender) post(ctx context.Context, endpoint, module string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+receivePath, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := s.signer.Sign(module)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("sign delivery token: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errBody map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	respErr := fmt.Errorf("receive endpoint status %d: %s", resp.StatusCode, errBody["error"])

	// The receiver rejected the envelope itself. Retrying cannot help.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return backoff.Permanent(respErr)
	}
	return respErr
}
