//go:build !integration

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nowpayments-gateway/internal/config"
	"nowpayments-gateway/internal/domain"
	"nowpayments-gateway/internal/domain/model"
)

// recordedRequest captures what the fake NOWPayments API received.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	CType  string
	Body   map[string]any
}

// fakeAPI is an httptest server standing in for api.nowpayments.io.
type fakeAPI struct {
	t       *testing.T
	srv     *httptest.Server
	mu      sync.Mutex
	reqs    []recordedRequest
	handler func(w http.ResponseWriter, r *http.Request)
}

func newFakeAPI(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t, handler: handler}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			APIKey: r.Header.Get("x-api-key"),
			CType:  r.Header.Get("Content-Type"),
		}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			if err := json.Unmarshal(b, &rec.Body); err != nil {
				t.Errorf("request body is not json: %v", err)
			}
		}
		f.mu.Lock()
		f.reqs = append(f.reqs, rec)
		f.mu.Unlock()
		f.handler(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		f.t.Fatal("expected at least one request to the fake api")
	}
	return f.reqs[len(f.reqs)-1]
}

func jsonReply(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

var fixedNow = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC) // 1700000000

func newTestGateway(t *testing.T, baseURL string) *NowPaymentsGateway {
	t.Helper()
	logger := zerolog.Nop()
	g, err := NewNowPaymentsGateway(config.NowPaymentsConfig{
		APIKey:            "test-key",
		BaseURL:           baseURL,
		IPNCallbackURL:    "https://shop.test/nowpayments/callback",
		PayoutCallbackURL: "https://shop.test/nowpayments/payout-callback",
		SuccessURL:        "https://shop.test/deposit/success",
		CancelURL:         "https://shop.test/deposit/cancel",
		Timeout:           2 * time.Second,
	}, &logger)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	g.now = func() time.Time { return fixedNow }
	g.newID = func() string { return "01HFTEST" }
	return g
}

func TestNewNowPaymentsGateway(t *testing.T) {
	t.Run("api key is required", func(t *testing.T) {
		if _, err := NewNowPaymentsGateway(config.NowPaymentsConfig{}, nil); err == nil {
			t.Fatal("expected an error for empty api key")
		}
	})

	t.Run("defaults base url", func(t *testing.T) {
		g, err := NewNowPaymentsGateway(config.NowPaymentsConfig{APIKey: "k"}, nil)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if g.baseURL != config.DefaultBaseURL {
			t.Errorf("expected %s, got %s", config.DefaultBaseURL, g.baseURL)
		}
		if g.Name() != "nowpayments" {
			t.Errorf("unexpected name %s", g.Name())
		}
	})
}

func TestCreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("sends the fixed currency pair and callback urls", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusCreated, `{"payment_id":"5524759814","invoice_url":"https://nowpayments.io/payment/?iid=1"}`))
		g := newTestGateway(t, api.srv.URL)

		out, err := g.CreatePayment(ctx, decimal.RequireFromString("25.50"), "abc123")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out["payment_id"] != "5524759814" {
			t.Errorf("expected raw response passthrough, got %v", out)
		}

		req := api.last()
		if req.Method != http.MethodPost || req.Path != "/payment" {
			t.Errorf("expected POST /payment, got %s %s", req.Method, req.Path)
		}
		if req.APIKey != "test-key" || req.CType != "application/json" {
			t.Errorf("unexpected headers: key=%q content-type=%q", req.APIKey, req.CType)
		}
		want := map[string]any{
			"price_amount":      25.5,
			"price_currency":    "usd",
			"pay_currency":      "usdt",
			"order_id":          "deposit_abc123_1700000000.0",
			"order_description": "Deposit for user abc123",
			"ipn_callback_url":  "https://shop.test/nowpayments/callback",
			"success_url":       "https://shop.test/deposit/success",
			"cancel_url":        "https://shop.test/deposit/cancel",
		}
		for k, v := range want {
			if req.Body[k] != v {
				t.Errorf("body[%s]: expected %v (%T), got %v (%T)", k, v, v, req.Body[k], req.Body[k])
			}
		}
	})

	t.Run("order id matches deposit pattern for any user", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{}`))
		g := newTestGateway(t, api.srv.URL)
		g.now = time.Now

		for _, user := range []string{"u1", "firebaseUID42", "x"} {
			if _, err := g.CreatePayment(ctx, decimal.NewFromInt(10), user); err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			orderID, _ := api.last().Body["order_id"].(string)
			pattern := regexp.MustCompile(`^deposit_` + regexp.QuoteMeta(user) + `_\d+\.\d+$`)
			if !pattern.MatchString(orderID) {
				t.Errorf("order id %q does not match %s", orderID, pattern)
			}
		}
	})

	t.Run("non-2xx is a GatewayRequestError", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusBadRequest, `{"statusCode":400,"code":"INVALID_REQUEST_PARAMS"}`))
		g := newTestGateway(t, api.srv.URL)

		out, err := g.CreatePayment(ctx, decimal.NewFromInt(1), "abc")
		if out != nil {
			t.Errorf("expected nil result on error, got %v", out)
		}
		var gerr *domain.GatewayRequestError
		if !errors.As(err, &gerr) {
			t.Fatalf("expected *GatewayRequestError, got %T (%v)", err, err)
		}
		if gerr.StatusCode != http.StatusBadRequest || !strings.Contains(gerr.Body, "INVALID_REQUEST_PARAMS") {
			t.Errorf("unexpected error detail: %+v", gerr)
		}
		if !errors.Is(err, domain.ErrGatewayRequest) {
			t.Error("expected errors.Is(err, ErrGatewayRequest)")
		}
	})
}

func TestCreateWithdrawal(t *testing.T) {
	ctx := context.Background()

	t.Run("sends a single usdt withdrawal with correlation payload", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"id":"5000000713","withdrawals":[{"status":"WAITING"}]}`))
		g := newTestGateway(t, api.srv.URL)

		out, err := g.CreateWithdrawal(ctx, "TXyzWalletAddress", decimal.RequireFromString("12.34"), "abc123")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out["id"] != "5000000713" {
			t.Errorf("expected raw response passthrough, got %v", out)
		}

		req := api.last()
		if req.Method != http.MethodPost || req.Path != "/payout" {
			t.Errorf("expected POST /payout, got %s %s", req.Method, req.Path)
		}
		ws, ok := req.Body["withdrawals"].([]any)
		if !ok || len(ws) != 1 {
			t.Fatalf("expected a single withdrawal, got %v", req.Body["withdrawals"])
		}
		w := ws[0].(map[string]any)
		if w["address"] != "TXyzWalletAddress" || w["currency"] != "usdt" || w["amount"] != 12.34 {
			t.Errorf("unexpected withdrawal entry: %v", w)
		}
		if w["ipn_callback_url"] != "https://shop.test/nowpayments/payout-callback" {
			t.Errorf("unexpected payout callback: %v", w["ipn_callback_url"])
		}
		payload := w["payload"].(map[string]any)
		if payload["user_id"] != "abc123" || payload["request_id"] != "01HFTEST" {
			t.Errorf("unexpected payload: %v", payload)
		}
		if _, err := time.Parse(time.RFC3339Nano, payload["timestamp"].(string)); err != nil {
			t.Errorf("timestamp is not ISO-8601: %v", err)
		}
	})

	t.Run("server error is a GatewayRequestError", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusInternalServerError, `oops`))
		g := newTestGateway(t, api.srv.URL)

		_, err := g.CreateWithdrawal(ctx, "addr", decimal.NewFromInt(1), "abc")
		if !errors.Is(err, domain.ErrGatewayRequest) {
			t.Fatalf("expected ErrGatewayRequest, got %v", err)
		}
	})
}

func TestGetPaymentStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the raw document", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"payment_id":5524759814,"payment_status":"waiting","extra":{"a":1}}`))
		g := newTestGateway(t, api.srv.URL)

		out, err := g.GetPaymentStatus(ctx, "5524759814")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		req := api.last()
		if req.Method != http.MethodGet || req.Path != "/payment/5524759814" {
			t.Errorf("expected GET /payment/5524759814, got %s %s", req.Method, req.Path)
		}
		if out["payment_status"] != "waiting" {
			t.Errorf("unexpected status: %v", out["payment_status"])
		}
		if out["payment_id"] != json.Number("5524759814") {
			t.Errorf("expected numeric id preserved, got %#v", out["payment_id"])
		}
		if _, ok := out["extra"].(map[string]any); !ok {
			t.Errorf("expected unknown fields passed through, got %v", out)
		}
	})

	t.Run("path is escaped", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{}`))
		g := newTestGateway(t, api.srv.URL)
		if _, err := g.GetPaymentStatus(ctx, "a/b"); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if got := api.last().Path; got != "/payment/a%2Fb" {
			t.Errorf("expected escaped path, got %s", got)
		}
	})

	t.Run("404 is a GatewayRequestError", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusNotFound, `{"message":"not found"}`))
		g := newTestGateway(t, api.srv.URL)
		if _, err := g.GetPaymentStatus(ctx, "1"); !errors.Is(err, domain.ErrGatewayRequest) {
			t.Fatalf("expected ErrGatewayRequest, got %v", err)
		}
	})

	t.Run("invalid json on 200 is a GatewayRequestError", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `not-json`))
		g := newTestGateway(t, api.srv.URL)
		if _, err := g.GetPaymentStatus(ctx, "1"); !errors.Is(err, domain.ErrGatewayRequest) {
			t.Fatalf("expected ErrGatewayRequest, got %v", err)
		}
	})
}

func TestGetMinimumPaymentAmount(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		body string
		want float64
	}{
		{"string amount", `{"min_amount": "5.5"}`, 5.5},
		{"numeric amount", `{"currency_from":"usdt","min_amount": 7.25}`, 7.25},
		{"absent amount", `{}`, 0},
		{"null amount", `{"min_amount": null}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newFakeAPI(t, jsonReply(http.StatusOK, tc.body))
			g := newTestGateway(t, api.srv.URL)

			got, err := g.GetMinimumPaymentAmount(ctx)
			if err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
			req := api.last()
			if req.Method != http.MethodGet || req.Path != "/min-amount" || req.Query != "currency_from=usdt" {
				t.Errorf("expected GET /min-amount?currency_from=usdt, got %s %s?%s", req.Method, req.Path, req.Query)
			}
		})
	}

	t.Run("non-numeric amount is an error", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"min_amount": "lots"}`))
		g := newTestGateway(t, api.srv.URL)
		if _, err := g.GetMinimumPaymentAmount(ctx); !errors.Is(err, domain.ErrGatewayRequest) {
			t.Fatalf("expected ErrGatewayRequest, got %v", err)
		}
	})

	t.Run("non-2xx never defaults silently", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusForbidden, `{"message":"Invalid api key"}`))
		g := newTestGateway(t, api.srv.URL)
		got, err := g.GetMinimumPaymentAmount(ctx)
		if !errors.Is(err, domain.ErrGatewayRequest) {
			t.Fatalf("expected ErrGatewayRequest, got %v (value %v)", err, got)
		}
	})
}

func TestVerifyCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"verification_status":"confirmed"}`))
		g := newTestGateway(t, api.srv.URL)

		if !g.VerifyCallback(ctx, model.Document{"verification_key": "key-1"}) {
			t.Fatal("expected callback to verify")
		}
		req := api.last()
		if req.Method != http.MethodGet || req.Path != "/payment-verification/key-1" {
			t.Errorf("expected GET /payment-verification/key-1, got %s %s", req.Method, req.Path)
		}
	})

	t.Run("not confirmed", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"verification_status":"rejected"}`))
		g := newTestGateway(t, api.srv.URL)
		if g.VerifyCallback(ctx, model.Document{"verification_key": "key-1"}) {
			t.Fatal("expected false for non-confirmed status")
		}
	})

	t.Run("http error degrades to false", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusBadGateway, `bad gateway`))
		g := newTestGateway(t, api.srv.URL)
		if g.VerifyCallback(ctx, model.Document{"verification_key": "key-1"}) {
			t.Fatal("expected false on http error")
		}
	})

	t.Run("network error degrades to false", func(t *testing.T) {
		api := newFakeAPI(t, jsonReply(http.StatusOK, `{"verification_status":"confirmed"}`))
		g := newTestGateway(t, api.srv.URL)
		api.srv.Close()
		if g.VerifyCallback(ctx, model.Document{"verification_key": "key-1"}) {
			t.Fatal("expected false on network error")
		}
	})

	t.Run("missing key never calls the api", func(t *testing.T) {
		called := false
		api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) { called = true })
		g := newTestGateway(t, api.srv.URL)
		if g.VerifyCallback(ctx, model.Document{"payment_status": "finished"}) {
			t.Fatal("expected false without verification_key")
		}
		if called {
			t.Error("expected no request without verification_key")
		}
	})
}

func TestProcessCallback(t *testing.T) {
	g := newTestGateway(t, "http://127.0.0.1:1")

	got, err := g.ProcessCallback(model.Document{
		"order_id":       "deposit_abc123_1700000000.0",
		"payment_status": "finished",
		"actually_paid":  "10.0",
		"pay_currency":   "usdt",
		"created_at":     "2023-11-14T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	want := model.NormalizedPayment{UserID: "abc123", Status: "finished", Amount: "10.0", Currency: "usdt", Timestamp: "2023-11-14T00:00:00Z"}
	if *got != want {
		t.Errorf("expected %+v, got %+v", want, *got)
	}

	if _, err := g.ProcessCallback(model.Document{"payment_status": "finished"}); !errors.Is(err, domain.ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}

func TestTransportFailureIsGatewayRequestError(t *testing.T) {
	api := newFakeAPI(t, jsonReply(http.StatusOK, `{}`))
	g := newTestGateway(t, api.srv.URL)
	api.srv.Close()

	_, err := g.GetPaymentStatus(context.Background(), "1")
	var gerr *domain.GatewayRequestError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *GatewayRequestError, got %T (%v)", err, err)
	}
	if gerr.StatusCode != 0 || gerr.Err == nil {
		t.Errorf("expected transport error without status, got %+v", gerr)
	}
}

func TestContextCancellation(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	g := newTestGateway(t, api.srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.GetPaymentStatus(ctx, "1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded to be unwrappable, got %v", err)
	}
	if !errors.Is(err, domain.ErrGatewayRequest) {
		t.Fatalf("expected ErrGatewayRequest, got %v", err)
	}
}
