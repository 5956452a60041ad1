package api

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nowpayments-gateway/internal/domain"
	"nowpayments-gateway/internal/domain/model"
	"nowpayments-gateway/internal/infra/logging"
	"nowpayments-gateway/internal/infra/metrics"
	"nowpayments-gateway/internal/usecase"
)

const maxBodyBytes = 1 << 20

type Options struct {
	IPNPath        string // path of payment.nowpayments.ipn_callback_url
	PayoutIPNPath  string // path of payment.nowpayments.payout_callback_url
	SuccessPath    string
	CancelPath     string
	RequestTimeout time.Duration
}

// Server wires the operator API and the gateway callback routes to PaymentUseCase.
type Server struct {
	payUC usecase.PaymentUseCase
	auth  *AuthManager // nil keeps /api/v1 closed
	opts  Options
	log   *zerolog.Logger
}

func NewServer(payUC usecase.PaymentUseCase, auth *AuthManager, opts Options, logger *zerolog.Logger) *Server {
	if opts.IPNPath == "" {
		opts.IPNPath = "/nowpayments/callback"
	}
	if opts.PayoutIPNPath == "" {
		opts.PayoutIPNPath = "/nowpayments/payout-callback"
	}
	if opts.SuccessPath == "" {
		opts.SuccessPath = "/deposit/success"
	}
	if opts.CancelPath == "" {
		opts.CancelPath = "/deposit/cancel"
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Server{payUC: payUC, auth: auth, opts: opts, log: logger}
}

// Routes builds the chi router with the middleware chain applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post(s.opts.IPNPath, s.handleCallback)
	if s.opts.PayoutIPNPath != s.opts.IPNPath {
		r.Post(s.opts.PayoutIPNPath, s.handleCallback)
	}
	r.Get(s.opts.SuccessPath, func(w http.ResponseWriter, _ *http.Request) {
		renderHTML(w, http.StatusOK, true, "Your deposit was received. It is credited once the network confirms it.")
	})
	r.Get(s.opts.CancelPath, func(w http.ResponseWriter, _ *http.Request) {
		renderHTML(w, http.StatusOK, false, "The deposit was cancelled. No funds were taken.")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireOperator)
		r.Post("/deposits", s.handleDeposit)
		r.Post("/withdrawals", s.handleWithdrawal)
		r.Get("/payments/{id}", s.handleStatus)
		r.Get("/min-amount", s.handleMinAmount)
	})
	return r
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			s.log.Error().Msg("operator auth is not configured")
			writeJSONError(w, http.StatusForbidden, "forbidden")
			return
		}
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := logging.WithUserID(r.Context(), "operator:"+claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	doc, err := s.payUC.Deposit(r.Context(), req.Amount, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req model.WithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	doc, err := s.payUC.Withdraw(r.Context(), req.Address, req.Amount, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.payUC.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleMinAmount(w http.ResponseWriter, r *http.Request) {
	v, err := s.payUC.MinimumAmount(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"currency": model.PayCurrencyUSDT, "min_amount": v})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := "fail"
	defer func() {
		metrics.PaymentVerifyDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	var data model.Document
	if err := decodeJSON(r, &data); err != nil {
		metrics.IncVerify("fail", "bad_json")
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	np, err := s.payUC.HandleCallback(r.Context(), data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result = "ok"
	writeJSON(w, http.StatusOK, np)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrBelowMinimum), errors.Is(err, domain.ErrInvalidCallback):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrCallbackNotVerified):
		status = http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrGatewayRequest):
		status = http.StatusBadGateway
	}
	if status >= 500 {
		logging.With(r.Context(), s.log).Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSONError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var page = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Deposit {{if .OK}}Received{{else}}Cancelled{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}Deposit Received{{else}}Deposit Cancelled{{end}}</h2>
  <p>{{.Msg}}</p>
</div>
</body>
</html>`))

func renderHTML(w http.ResponseWriter, code int, ok bool, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = page.Execute(w, struct {
		OK  bool
		Msg string
	}{OK: ok, Msg: msg})
}
