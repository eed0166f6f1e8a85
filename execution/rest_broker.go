package execution

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RESTConfig configures the signed HTTP broker.
type RESTConfig struct {
	BaseURL         string        `yaml:"base_url"`
	PrivateKeyHex   string        `yaml:"-"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

func DefaultRESTConfig() RESTConfig {
	return RESTConfig{
		BaseURL:         "http://localhost:8080",
		Timeout:         30 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  5,
		BreakerFailures: 5,
		BreakerTimeout:  60 * time.Second,
	}
}

// orderRequest is the JSON body of POST /orders.
type orderRequest struct {
	ClientOrderID  string         `json:"client_order_id"`
	Account        string         `json:"account"`
	InstrumentType InstrumentType `json:"instrument_type"`
	OrderType      string         `json:"order_type"`
	Legs           []LegOrder     `json:"legs"`
	Nonce          int64          `json:"nonce"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// RESTBroker submits market orders to an HTTP order gateway. Every request body is
// signed with the account key and sent with the signer address.
type RESTBroker struct {
	config     RESTConfig
	privateKey *ecdsa.PrivateKey
	address    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewRESTBroker(config RESTConfig, logger *zap.Logger) (*RESTBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required")
	}

	privateKeyBytes, err := hex.DecodeString(strings.TrimPrefix(config.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	if config.RateLimitBurst <= 0 {
		config.RateLimitBurst = 1
	}
	limit := rate.Inf
	if config.RateLimitRPS > 0 {
		limit = rate.Limit(config.RateLimitRPS)
	}

	failures := config.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "broker",
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Broker circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &RESTBroker{
		config:     config,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(limit, config.RateLimitBurst),
		breaker:    gobreaker.NewCircuitBreaker(settings),
		logger:     logger,
	}, nil
}

// Address is the hex address derived from the signing key.
func (b *RESTBroker) Address() string { return b.address }

func (b *RESTBroker) PlaceMarketOrder(ctx context.Context, account string, instrument InstrumentType, symbol string, direction Direction, quantity int64) error {
	return b.submit(ctx, account, instrument, []LegOrder{{Symbol: symbol, Direction: direction, Quantity: quantity}})
}

func (b *RESTBroker) PlaceMultiLegMarketOrder(ctx context.Context, account string, instrument InstrumentType, legs []LegOrder) error {
	return b.submit(ctx, account, instrument, legs)
}

func (b *RESTBroker) submit(ctx context.Context, account string, instrument InstrumentType, legs []LegOrder) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req := orderRequest{
		ClientOrderID:  uuid.NewString(),
		Account:        account,
		InstrumentType: instrument,
		OrderType:      "MARKET",
		Legs:           legs,
		Nonce:          time.Now().UnixMilli(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		return b.makeAPIRequest(ctx, http.MethodPost, "/orders", body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrOrderRejected, err)
	}
	if err != nil {
		return err
	}

	var resp orderResponse
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return fmt.Errorf("failed to parse order response: %w", err)
	}
	if !strings.EqualFold(resp.Status, string(OrderStatusFilled)) {
		return fmt.Errorf("%w: %s %s", ErrOrderRejected, resp.Status, resp.Message)
	}

	b.logger.Info("Order placed",
		zap.String("client_order_id", req.ClientOrderID),
		zap.String("order_id", resp.OrderID),
		zap.Int("legs", len(legs)))
	return nil
}

// Sign returns the hex secp256k1 signature of the Keccak256 hash of body.
func (b *RESTBroker) Sign(body []byte) (string, error) {
	hash := crypto.Keccak256Hash(body)
	signature, err := crypto.Sign(hash.Bytes(), b.privateKey)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(signature), nil
}

func (b *RESTBroker) makeAPIRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	signature, err := b.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.config.BaseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-signature", signature)
	req.Header.Set("x-address", b.address)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: API error %d: %s", ErrOrderRejected, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
