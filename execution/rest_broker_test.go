package execution

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestKey(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}

func newRESTBroker(t *testing.T, url string, failures uint32) *RESTBroker {
	t.Helper()
	cfg := DefaultRESTConfig()
	cfg.BaseURL = url
	cfg.PrivateKeyHex = newTestKey(t)
	cfg.RateLimitRPS = 0
	cfg.BreakerFailures = failures
	cfg.BreakerTimeout = time.Minute
	b, err := NewRESTBroker(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b
}

func TestRESTBrokerSignsAndSubmits(t *testing.T) {
	var got orderRequest
	var recovered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)

		sig, err := hex.DecodeString(r.Header.Get("x-signature"))
		if assert.NoError(t, err) {
			pub, err := crypto.SigToPub(crypto.Keccak256Hash(body).Bytes(), sig)
			if assert.NoError(t, err) {
				recovered = crypto.PubkeyToAddress(*pub).Hex()
			}
		}
		assert.Equal(t, r.Header.Get("x-address"), recovered)
		_, _ = w.Write([]byte(`{"order_id":"42","status":"filled"}`))
	}))
	defer srv.Close()

	b := newRESTBroker(t, srv.URL, 5)
	err := b.PlaceMultiLegMarketOrder(context.Background(), "acct-1", InstrumentOption, []LegOrder{
		{Symbol: "P100", Direction: DirectionBuyToOpen, Quantity: 2},
		{Symbol: "P95", Direction: DirectionSellToOpen, Quantity: 2},
	})
	require.NoError(t, err)

	assert.Equal(t, b.Address(), recovered)
	assert.Equal(t, "acct-1", got.Account)
	assert.Equal(t, "MARKET", got.OrderType)
	assert.Len(t, got.ClientOrderID, 36)
	require.Len(t, got.Legs, 2)
	assert.Equal(t, DirectionSellToOpen, got.Legs[1].Direction)
}

func TestRESTBrokerRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"rejected","message":"no buying power"}`))
	}))
	defer srv.Close()

	b := newRESTBroker(t, srv.URL, 5)
	err := b.PlaceMarketOrder(context.Background(), "acct", InstrumentEquity, "SPY", DirectionBuy, 1)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Contains(t, err.Error(), "no buying power")
}

func TestRESTBrokerCircuitOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := newRESTBroker(t, srv.URL, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		err := b.PlaceMarketOrder(ctx, "acct", InstrumentEquity, "SPY", DirectionBuy, 1)
		assert.ErrorIs(t, err, ErrOrderRejected)
	}
	err := b.PlaceMarketOrder(ctx, "acct", InstrumentEquity, "SPY", DirectionBuy, 1)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestNewRESTBrokerRequiresKey(t *testing.T) {
	_, err := NewRESTBroker(DefaultRESTConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultRESTConfig()
	cfg.PrivateKeyHex = "zz"
	_, err = NewRESTBroker(cfg, nil)
	assert.Error(t, err)
}
