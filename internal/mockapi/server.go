// Package mockapi is an in-process checkout backend with deterministic
// scenarios. It backs the CLI's mock-backend command and the end-to-end tests.
package mockapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/clienttoken"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/threeds"
)

var errNotFound = errors.New("not found")

// ThreeDSKey is the 3DS SDK key every configuration carries.
const ThreeDSKey = "mock-3ds-key"

// ReturnURL is where a finished bank redirect sends the shopper back, with
// the resume token in its resumeToken query parameter.
const ReturnURL = "nimbus-checkout://redirect"

// Options holds configuration for creating a mock backend.
type Options struct {
	// Key signs minted session tokens. A random key is used when empty.
	Key         []byte
	Environment string
	// RedirectPolls is how many status reads answer PENDING before COMPLETE.
	RedirectPolls int
	TokenTTL      time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	Logger        *slog.Logger
}

// Server simulates the checkout backend.
type Server struct {
	opts   Options
	store  *store
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a mock backend. Zero options mean sandbox, one pending status
// read, hour-long tokens and no latency.
func New(opts Options) *Server {
	if len(opts.Key) == 0 {
		opts.Key = []byte(randomHex(32))
	}
	if opts.Environment == "" {
		opts.Environment = "SANDBOX"
	}
	if opts.RedirectPolls < 0 {
		opts.RedirectPolls = 0
	} else if opts.RedirectPolls == 0 {
		opts.RedirectPolls = 1
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		store:  newStore(),
		logger: opts.Logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Router registers every route on a new gorilla/mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.simulateLatency)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/client-session", s.createClientSession).Methods(http.MethodPost)
	r.HandleFunc("/redirect/{id}", s.redirectReturn).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireClientToken)
	api.HandleFunc("/configuration", s.configuration).Methods(http.MethodGet)
	api.HandleFunc("/pci/payment-instruments", s.tokenize).Methods(http.MethodPost)
	api.HandleFunc("/pci/3ds/{token}/auth", s.beginAuth).Methods(http.MethodPost)
	api.HandleFunc("/pci/3ds/{token}/continue", s.continueAuth).Methods(http.MethodPost)
	api.HandleFunc("/payments", s.createPayment).Methods(http.MethodPost)
	api.HandleFunc("/payments/{id}/resume", s.resumePayment).Methods(http.MethodPost)
	api.HandleFunc("/status/{id}", s.status).Methods(http.MethodGet)
	api.HandleFunc("/gocardless/mandates", s.createMandate).Methods(http.MethodPost)
	return r
}

// ClientToken mints a session token whose URLs point at base.
func (s *Server) ClientToken(base string) (string, error) {
	return s.mint(base, func(*clienttoken.Claims) {})
}

func (s *Server) mint(base string, extra func(*clienttoken.Claims)) (string, error) {
	now := time.Now()
	c := clienttoken.Claims{
		AccessToken:      uuid.NewString(),
		ConfigurationURL: base + "/configuration",
		CoreURL:          base,
		PCIURL:           base + "/pci",
		Environment:      s.opts.Environment,
		Intent:           "CHECKOUT",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	extra(&c)
	raw, err := clienttoken.Mint(c, s.opts.Key)
	if err != nil {
		return "", err
	}
	s.store.addSession(c.AccessToken)
	return raw, nil
}

// simulateLatency delays every request like a remote backend would.
func (s *Server) simulateLatency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if latency := s.latency(); latency > 0 {
			select {
			case <-time.After(latency):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	min, max := s.opts.MinLatency, s.opts.MaxLatency
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// requireClientToken rejects calls without a token this backend minted.
func (s *Server) requireClientToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Version") == "" {
			writeError(w, http.StatusBadRequest, "missing-api-version", "X-Api-Version header is required")
			return
		}
		if !s.store.hasSession(r.Header.Get("Primer-Client-Token")) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "client token is missing or unknown")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	payments, instruments := s.store.counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"environment": s.opts.Environment,
		"payments":    payments,
		"instruments": instruments,
	})
}

// createClientSession handles POST /client-session
func (s *Server) createClientSession(w http.ResponseWriter, r *http.Request) {
	raw, err := s.ClientToken(baseURL(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mint-failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clientToken": raw})
}

// configuration handles GET /configuration
func (s *Server) configuration(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	writeJSON(w, http.StatusOK, model.PaymentMethodConfig{
		CoreURL:     base,
		PCIURL:      base + "/pci",
		Environment: s.opts.Environment,
		PaymentMethods: []model.PaymentMethod{
			{ID: "pm-card", Type: "PAYMENT_CARD", Name: "Card", ProcessorConfigID: "proc-card", ImplementationType: "NATIVE_SDK"},
			{ID: "pm-paypal", Type: "PAYPAL", Name: "PayPal", ProcessorConfigID: "proc-paypal", ImplementationType: "NATIVE_SDK"},
			{ID: "pm-gocardless", Type: "GOCARDLESS", Name: "Direct Debit", ProcessorConfigID: "proc-gocardless", ImplementationType: "NATIVE_SDK"},
			{ID: "pm-ach", Type: "ACH", Name: "ACH", ProcessorConfigID: "proc-ach", ImplementationType: "NATIVE_SDK"},
			{ID: "pm-ideal", Type: "ADYEN_IDEAL", Name: "iDEAL", ProcessorConfigID: "proc-ideal", ImplementationType: "WEB_REDIRECT"},
			{ID: "pm-sofort", Type: "ADYEN_SOFORT", Name: "Sofort", ProcessorConfigID: "proc-sofort", ImplementationType: "WEB_REDIRECT"},
		},
		Keys: &model.ConfigKeys{
			ThreeDSecureToken:            ThreeDSKey,
			ThreeDSecureProtocolVersions: threeds.DefaultProtocolVersions,
		},
	})
}

// rawInstrument is the union of every instrument field the mock inspects.
type rawInstrument struct {
	Type                     string `json:"type"`
	Number                   string `json:"number"`
	ExpirationMonth          string `json:"expirationMonth"`
	ExpirationYear           string `json:"expirationYear"`
	PayPalOrderID            string `json:"paypalOrderId"`
	PayPalBillingAgreementID string `json:"paypalBillingAgreementId"`
	MandateID                string `json:"gocardlessMandateId"`
	RoutingNumber            string `json:"routingNumber"`
	AccountNumber            string `json:"accountNumber"`
	PaymentMethodType        string `json:"paymentMethodType"`
}

// tokenize handles POST /pci/payment-instruments
func (s *Server) tokenize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentInstrument *rawInstrument `json:"paymentInstrument"`
		TokenType         string         `json:"tokenType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentInstrument == nil {
		writeError(w, http.StatusBadRequest, "invalid-request", "paymentInstrument is required")
		return
	}
	in := req.PaymentInstrument

	rec := &instrumentRecord{Token: "pmt_" + randomHex(12)}
	data := &model.InstrumentData{}
	switch {
	case in.Number != "":
		if len(in.Number) < 12 || in.ExpirationMonth == "" || in.ExpirationYear == "" {
			writeError(w, http.StatusBadRequest, "invalid-card", "card number or expiry is invalid")
			return
		}
		rec.Type, rec.Number = model.InstrumentPaymentCard, in.Number
		data.Last4Digits = in.Number[len(in.Number)-4:]
		data.Network = cardNetwork(in.Number)
		data.ExpiryMonth, data.ExpiryYear = in.ExpirationMonth, in.ExpirationYear
	case in.PayPalOrderID != "":
		rec.Type = model.InstrumentPayPalOrder
	case in.PayPalBillingAgreementID != "":
		rec.Type = model.InstrumentPayPalBillingAgreement
	case in.MandateID != "":
		if !s.store.hasMandate(in.MandateID) {
			writeError(w, http.StatusBadRequest, "unknown-mandate", "mandate "+in.MandateID+" does not exist")
			return
		}
		rec.Type = model.InstrumentDirectDebitMandate
	case in.RoutingNumber != "":
		rec.Type = model.InstrumentACH
		if n := len(in.AccountNumber); n >= 4 {
			data.Last4Digits = in.AccountNumber[n-4:]
		}
	case in.Type == string(model.InstrumentBankRedirect) && in.PaymentMethodType != "":
		rec.Type, rec.MethodType = model.InstrumentBankRedirect, in.PaymentMethodType
	default:
		writeError(w, http.StatusBadRequest, "unsupported-instrument", "payment instrument is not recognized")
		return
	}
	s.store.saveInstrument(rec)

	s.logger.Info("mock_instrument_tokenized", "instrument_type", rec.Type, "last4", data.Last4Digits)
	tok := model.PaymentMethodToken{
		Token:                 rec.Token,
		AnalyticsID:           uuid.NewString(),
		TokenType:             "SINGLE_USE",
		PaymentInstrumentType: rec.Type,
	}
	if *data != (model.InstrumentData{}) {
		tok.PaymentInstrumentData = data
	}
	writeJSON(w, http.StatusOK, tok)
}

// createPayment handles POST /payments
func (s *Server) createPayment(w http.ResponseWriter, r *http.Request) {
	idempotencyKey := r.Header.Get("X-Idempotency-Key")
	if p, ok := s.store.replay(idempotencyKey); ok {
		writeJSON(w, http.StatusOK, p)
		return
	}

	var req struct {
		PaymentMethodToken string `json:"paymentMethodToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentMethodToken == "" {
		writeError(w, http.StatusBadRequest, "invalid-request", "paymentMethodToken is required")
		return
	}
	inst, ok := s.store.useInstrument(req.PaymentMethodToken)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid-payment-method-token", "payment method token is unknown or already used")
		return
	}

	base := baseURL(r)
	rec := &paymentRecord{
		Payment: model.Payment{
			ID:           "pay_" + randomHex(10),
			OrderID:      "order_" + randomHex(6),
			Amount:       4999,
			CurrencyCode: "EUR",
		},
		Outcome: outcomeFor(inst),
		PMToken: inst.Token,
	}

	var err error
	switch rec.Outcome {
	case OutcomeApprove:
		rec.Payment.Status = model.StatusSuccess
	case OutcomeSettleLater:
		rec.Payment.Status = model.StatusPending
	case OutcomeDecline:
		rec.Payment.Status = model.StatusDeclined
		rec.Payment.PaymentFailureReason = "insufficient funds"
	case OutcomeFrictionless, OutcomeChallenge:
		err = s.requireAction(rec, base, model.ActionThreeDSAuthentication, func(c *clienttoken.Claims) {
			c.ThreeDSecureToken = ThreeDSKey
			c.ThreeDSecureInitURL = base + "/pci/3ds"
		})
	case OutcomeRedirect:
		statusID := randomHex(8)
		err = s.requireAction(rec, base, model.ActionUsePrimerSDK, func(c *clienttoken.Claims) {
			c.RedirectURL = base + "/redirect/" + statusID
			c.StatusURL = base + "/status/" + statusID
		})
		if err == nil {
			rec.ResumeToken, rec.OnResume = "resume_"+randomHex(10), model.StatusSettled
			s.store.saveStatus(statusID, &statusRecord{
				PaymentID:   rec.Payment.ID,
				PendingLeft: s.opts.RedirectPolls,
				ResumeToken: rec.ResumeToken,
			})
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "mint-failed", err.Error())
		return
	}

	s.store.savePayment(rec, idempotencyKey)
	s.logger.Info("mock_payment_created",
		"payment_id", rec.Payment.ID,
		"instrument_type", inst.Type,
		"outcome", rec.Outcome.String(),
		"status", rec.Payment.Status,
	)
	writeJSON(w, http.StatusOK, rec.Payment)
}

// requireAction makes rec pending on a required action carrying a fresh token.
func (s *Server) requireAction(rec *paymentRecord, base string, name model.ActionName, extra func(*clienttoken.Claims)) error {
	var access string
	raw, err := s.mint(base, func(c *clienttoken.Claims) {
		extra(c)
		access = c.AccessToken
	})
	if err != nil {
		return err
	}
	rec.ActionAccess = access
	rec.Payment.Status = model.StatusPending
	rec.Payment.RequiredAction = &model.RequiredAction{Name: name, ClientToken: raw}
	return nil
}

// resumePayment handles POST /payments/{id}/resume
func (s *Server) resumePayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		ResumeToken string `json:"resumeToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ResumeToken == "" {
		writeError(w, http.StatusBadRequest, "invalid-request", "resumeToken is required")
		return
	}
	access := r.Header.Get("Primer-Client-Token")

	var (
		payment model.Payment
		status  = http.StatusOK
		errID   string
		desc    string
	)
	err := s.store.updatePayment(id, func(rec *paymentRecord) error {
		switch {
		case rec.Payment.RequiredAction == nil:
			status, errID, desc = http.StatusConflict, "not-resumable", "payment has no pending required action"
		case access != rec.ActionAccess:
			status, errID, desc = http.StatusUnauthorized, "stale-client-token", "resume must use the required action's client token"
		case rec.ResumeToken == "" || req.ResumeToken != rec.ResumeToken:
			status, errID, desc = http.StatusBadRequest, "invalid-resume-token", "resume token does not match"
		default:
			rec.Payment.RequiredAction = nil
			rec.Payment.Status = rec.OnResume
			if rec.OnResume == model.StatusDeclined {
				rec.Payment.PaymentFailureReason = "3DS authentication failed"
			}
		}
		payment = rec.Payment
		return nil
	})
	if errors.Is(err, errNotFound) {
		writeError(w, http.StatusNotFound, "payment-not-found", "payment not found: "+id)
		return
	}
	if status != http.StatusOK {
		writeError(w, status, errID, desc)
		return
	}
	s.logger.Info("mock_payment_resumed", "payment_id", id, "status", payment.Status)
	writeJSON(w, http.StatusOK, payment)
}

type authentication map[string]string

// beginAuth handles POST /pci/3ds/{token}/auth
func (s *Server) beginAuth(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var req struct {
		MaxProtocolVersion string                `json:"maxProtocolVersion"`
		Device             model.ThreeDSAuthData `json:"device"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Device.SDKTransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid-request", "device.sdkTransactionId is required")
		return
	}
	version := req.MaxProtocolVersion
	if version == "" {
		version = "2.1.0"
	}

	var resp map[string]any
	err := s.store.updateByPMToken(token, func(rec *paymentRecord) error {
		serverTxn := uuid.NewString()
		switch rec.Outcome {
		case OutcomeFrictionless:
			rec.ResumeToken, rec.OnResume = "resume_"+randomHex(10), model.StatusSuccess
			resp = map[string]any{
				"authentication": authentication{
					"responseCode":    threeds.CodeAuthSuccess,
					"protocolVersion": version,
					"transactionId":   serverTxn,
					"eci":             "05",
				},
				"resumeToken": rec.ResumeToken,
			}
		case OutcomeChallenge:
			rec.Challenged = true
			resp = map[string]any{
				"authentication": authentication{
					"responseCode":       threeds.CodeChallenge,
					"protocolVersion":    version,
					"transactionId":      serverTxn,
					"acsReferenceNumber": "mock-acs-reference",
					"acsSignedContent":   "eyJhbGciOiJQUzI1NiJ9.mock." + randomHex(8),
					"acsTransactionId":   uuid.NewString(),
				},
			}
		default:
			return errNotFound
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "authentication-not-found", "no 3DS authentication for this token")
		return
	}
	s.logger.Info("mock_3ds_auth_started", "version", version)
	writeJSON(w, http.StatusOK, resp)
}

// continueAuth handles POST /pci/3ds/{token}/continue
func (s *Server) continueAuth(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var req struct {
		TransactionStatus string `json:"transactionStatus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionStatus == "" {
		writeError(w, http.StatusBadRequest, "invalid-request", "transactionStatus is required")
		return
	}

	var resp map[string]any
	err := s.store.updateByPMToken(token, func(rec *paymentRecord) error {
		if !rec.Challenged {
			return errNotFound
		}
		code := threeds.CodeAuthFailed
		rec.ResumeToken, rec.OnResume = "resume_"+randomHex(10), model.StatusDeclined
		if st := strings.ToUpper(req.TransactionStatus); st == "Y" || st == "A" {
			code, rec.OnResume = threeds.CodeAuthSuccess, model.StatusSuccess
		}
		resp = map[string]any{
			"authentication": authentication{"responseCode": code},
			"resumeToken":    rec.ResumeToken,
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusConflict, "no-challenge", "no challenge is pending for this token")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// status handles GET /status/{id}
func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resumeToken, complete, ok := s.store.poll(id)
	switch {
	case !ok:
		writeError(w, http.StatusNotFound, "status-not-found", "status not found: "+id)
	case !complete:
		writeJSON(w, http.StatusOK, map[string]string{"status": "PENDING"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"id": resumeToken, "status": "COMPLETE"})
	}
}

// redirectReturn handles GET /redirect/{id}, standing in for the bank page.
// Visiting it completes the step and sends the shopper back to ReturnURL.
func (s *Server) redirectReturn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	resumeToken, ok := s.store.completeRedirect(id)
	if !ok {
		writeError(w, http.StatusNotFound, "status-not-found", "status not found: "+id)
		return
	}
	back := ReturnURL + "?" + url.Values{"resumeToken": {resumeToken}}.Encode()
	http.Redirect(w, r, back, http.StatusFound)
}

// createMandate handles POST /gocardless/mandates
func (s *Server) createMandate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		BankDetails struct {
			IBAN string `json:"iban"`
		} `json:"bankDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.BankDetails.IBAN == "" {
		writeError(w, http.StatusBadRequest, "invalid-request", "id and bankDetails.iban are required")
		return
	}
	id := "MD" + strings.ToUpper(randomHex(6))
	s.store.saveMandate(id, req.BankDetails.IBAN)
	writeJSON(w, http.StatusOK, map[string]string{"mandateId": id})
}
