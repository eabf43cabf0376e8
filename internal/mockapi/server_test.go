package mockapi

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/clienttoken"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
)

func setupServer(t *testing.T, opts Options) (*httpexpect.Expect, *Server) {
	t.Helper()
	s := New(opts)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return httpexpect.Default(t, srv.URL), s
}

// session mints a client token over HTTP and returns an expect bound to it.
func session(t *testing.T, e *httpexpect.Expect) (*httpexpect.Expect, *model.SessionToken) {
	t.Helper()
	raw := e.POST("/client-session").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("clientToken").String().Raw()
	return withToken(t, e, raw)
}

func withToken(t *testing.T, e *httpexpect.Expect, raw string) (*httpexpect.Expect, *model.SessionToken) {
	t.Helper()
	tok, err := clienttoken.Decode(raw, time.Now())
	require.NoError(t, err)
	return e.Builder(func(req *httpexpect.Request) {
		req.WithHeader("Primer-Client-Token", tok.AccessToken).
			WithHeader("X-Api-Version", config.APIVersion)
	}), tok
}

func tokenizeCard(api *httpexpect.Expect, number string) string {
	return api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{
			"paymentInstrument": model.CardInstrument{
				Number: number, CVV: "123", ExpirationMonth: "03", ExpirationYear: "2030",
				CardholderName: gofakeit.Name(),
			},
			"tokenType": "SINGLE_USE",
		}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("token").String().Raw()
}

func createPayment(api *httpexpect.Expect, pmToken string) *httpexpect.Object {
	return api.POST("/payments").
		WithHeader("X-Idempotency-Key", gofakeit.UUID()).
		WithJSON(map[string]string{"paymentMethodToken": pmToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
}

func device() map[string]any {
	return map[string]any{
		"maxProtocolVersion":  "2.2.0",
		"challengePreference": "NO_PREFERENCE",
		"device":              model.ThreeDSAuthData{SDKTransactionID: gofakeit.UUID(), SDKAppID: "app", SDKMaxTimeout: 10},
	}
}

func TestClientSession_TokenDecodes(t *testing.T) {
	e, _ := setupServer(t, Options{})
	_, tok := session(t, e)

	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "SANDBOX", tok.Environment)
	assert.Contains(t, tok.ConfigurationURL, "/configuration")
	assert.Contains(t, tok.PCIURL, "/pci")
	assert.False(t, tok.ExpiresAt.IsZero())
}

func TestRequiresClientToken(t *testing.T) {
	e, _ := setupServer(t, Options{})

	e.GET("/configuration").
		WithHeader("X-Api-Version", config.APIVersion).
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").Object().Value("errorId").String().IsEqual("unauthorized")

	e.GET("/configuration").
		WithHeader("Primer-Client-Token", "made-up").
		Expect().
		Status(http.StatusBadRequest)

	e.GET("/health").Expect().Status(http.StatusOK)
}

func TestConfiguration(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, tok := session(t, e)

	obj := api.GET("/configuration").Expect().Status(http.StatusOK).JSON().Object()
	obj.Value("coreUrl").String().IsEqual(tok.CoreURL)
	obj.Value("env").String().IsEqual("SANDBOX")
	obj.Value("keys").Object().Value("threeDSecureToken").String().IsEqual(ThreeDSKey)
	obj.Value("paymentMethods").Array().Length().IsEqual(6)
}

func TestCardPayment_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		number string
		status model.PaymentStatus
		action bool
	}{
		{"approved", "4242424242424242", model.StatusSuccess, false},
		{"no three ds", CardNoThreeDS, model.StatusSuccess, false},
		{"declined", CardDeclined, model.StatusDeclined, false},
		{"frictionless", CardFrictionless, model.StatusPending, true},
		{"challenge", CardChallenge, model.StatusPending, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := setupServer(t, Options{})
			api, _ := session(t, e)

			obj := createPayment(api, tokenizeCard(api, tt.number))
			obj.Value("id").String().NotEmpty()
			obj.Value("status").String().IsEqual(string(tt.status))
			if tt.action {
				obj.Value("requiredAction").Object().Value("name").String().IsEqual(string(model.ActionThreeDSAuthentication))
			} else {
				obj.NotContainsKey("requiredAction")
			}
		})
	}
}

func TestFrictionlessThreeDS_ResumeNeedsActionToken(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, _ := session(t, e)

	pmToken := tokenizeCard(api, CardFrictionless)
	payment := createPayment(api, pmToken)
	paymentID := payment.Value("id").String().Raw()
	actionRaw := payment.Value("requiredAction").Object().Value("clientToken").String().Raw()
	actionAPI, actionTok := withToken(t, e, actionRaw)
	assert.Equal(t, ThreeDSKey, actionTok.ThreeDSecureToken)

	auth := actionAPI.POST("/pci/3ds/" + pmToken + "/auth").
		WithJSON(device()).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	auth.Value("authentication").Object().Value("responseCode").String().IsEqual("AUTH_SUCCESS")
	resumeToken := auth.Value("resumeToken").String().Raw()

	api.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": resumeToken}).
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").Object().Value("errorId").String().IsEqual("stale-client-token")

	actionAPI.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": "wrong"}).
		Expect().
		Status(http.StatusBadRequest)

	actionAPI.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": resumeToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("status").String().IsEqual(string(model.StatusSuccess))

	actionAPI.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": resumeToken}).
		Expect().
		Status(http.StatusConflict)
}

func TestChallengeThreeDS(t *testing.T) {
	for _, tt := range []struct {
		txStatus string
		code     string
		final    model.PaymentStatus
	}{
		{"Y", "AUTH_SUCCESS", model.StatusSuccess},
		{"N", "AUTH_FAILED", model.StatusDeclined},
	} {
		t.Run(tt.txStatus, func(t *testing.T) {
			e, _ := setupServer(t, Options{})
			api, _ := session(t, e)

			pmToken := tokenizeCard(api, CardChallenge)
			payment := createPayment(api, pmToken)
			paymentID := payment.Value("id").String().Raw()
			actionAPI, _ := withToken(t, e, payment.Value("requiredAction").Object().Value("clientToken").String().Raw())

			actionAPI.POST("/pci/3ds/" + pmToken + "/continue").
				WithJSON(map[string]string{"transactionStatus": "Y"}).
				Expect().
				Status(http.StatusConflict)

			authn := actionAPI.POST("/pci/3ds/" + pmToken + "/auth").
				WithJSON(device()).
				Expect().
				Status(http.StatusOK).
				JSON().Object().Value("authentication").Object()
			authn.Value("responseCode").String().IsEqual("CHALLENGE")
			authn.Value("protocolVersion").String().IsEqual("2.2.0")
			authn.ContainsKey("acsSignedContent")

			resumeToken := actionAPI.POST("/pci/3ds/" + pmToken + "/continue").
				WithJSON(map[string]string{"transactionStatus": tt.txStatus}).
				Expect().
				Status(http.StatusOK).
				JSON().Object().
				HasValue("authentication", map[string]any{"responseCode": tt.code}).
				Value("resumeToken").String().Raw()

			actionAPI.POST("/payments/" + paymentID + "/resume").
				WithJSON(map[string]string{"resumeToken": resumeToken}).
				Expect().
				Status(http.StatusOK).
				JSON().Object().Value("status").String().IsEqual(string(tt.final))
		})
	}
}

func TestPaymentMethodTokenSingleUse(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, _ := session(t, e)

	pmToken := tokenizeCard(api, "4242424242424242")
	createPayment(api, pmToken)

	api.POST("/payments").
		WithJSON(map[string]string{"paymentMethodToken": pmToken}).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").Object().Value("errorId").String().IsEqual("invalid-payment-method-token")
}

func TestIdempotentCreate(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, _ := session(t, e)
	pmToken := tokenizeCard(api, "4242424242424242")
	key := gofakeit.UUID()

	first := api.POST("/payments").WithHeader("X-Idempotency-Key", key).
		WithJSON(map[string]string{"paymentMethodToken": pmToken}).
		Expect().Status(http.StatusOK).JSON().Object().Value("id").String().Raw()
	second := api.POST("/payments").WithHeader("X-Idempotency-Key", key).
		WithJSON(map[string]string{"paymentMethodToken": pmToken}).
		Expect().Status(http.StatusOK).JSON().Object().Value("id").String().Raw()
	assert.Equal(t, first, second)
}

func TestBankRedirect_StatusThenResume(t *testing.T) {
	e, _ := setupServer(t, Options{RedirectPolls: 2})
	api, _ := session(t, e)

	pmToken := api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{"paymentInstrument": model.BankRedirectInstrument{
			PaymentMethodType:     "ADYEN_IDEAL",
			PaymentMethodConfigID: "proc-ideal",
			SessionInfo:           model.BankRedirectSessionInfo{Locale: "nl-NL", Platform: "WEB"},
		}}).
		Expect().Status(http.StatusOK).
		JSON().Object().
		HasValue("paymentInstrumentType", string(model.InstrumentBankRedirect)).
		Value("token").String().Raw()

	payment := createPayment(api, pmToken)
	payment.Value("requiredAction").Object().Value("name").String().IsEqual(string(model.ActionUsePrimerSDK))
	paymentID := payment.Value("id").String().Raw()
	actionAPI, actionTok := withToken(t, e, payment.Value("requiredAction").Object().Value("clientToken").String().Raw())
	require.NotEmpty(t, actionTok.StatusURL)
	require.NotEmpty(t, actionTok.RedirectURL)

	statusPath := actionTok.StatusURL[len(actionTok.CoreURL):]
	for i := 0; i < 2; i++ {
		actionAPI.GET(statusPath).Expect().Status(http.StatusOK).
			JSON().Object().HasValue("status", "PENDING")
	}
	resumeToken := actionAPI.GET(statusPath).Expect().Status(http.StatusOK).
		JSON().Object().HasValue("status", "COMPLETE").
		Value("id").String().Raw()

	actionAPI.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": resumeToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("status").String().IsEqual(string(model.StatusSettled))

	actionAPI.GET("/status/unknown").Expect().Status(http.StatusNotFound)
}

func TestBankRedirect_ReturnURLCarriesResumeToken(t *testing.T) {
	e, _ := setupServer(t, Options{RedirectPolls: 5})
	api, _ := session(t, e)

	pmToken := api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{"paymentInstrument": model.BankRedirectInstrument{
			PaymentMethodType:     "ADYEN_SOFORT",
			PaymentMethodConfigID: "proc-sofort",
			SessionInfo:           model.BankRedirectSessionInfo{Locale: "de-DE", Platform: "WEB"},
		}}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("token").String().Raw()

	payment := createPayment(api, pmToken)
	paymentID := payment.Value("id").String().Raw()
	actionAPI, actionTok := withToken(t, e, payment.Value("requiredAction").Object().Value("clientToken").String().Raw())

	location := e.GET(actionTok.RedirectURL[len(actionTok.CoreURL):]).
		WithRedirectPolicy(httpexpect.DontFollowRedirects).
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()
	back, err := url.Parse(location)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, ReturnURL))
	resumeToken := back.Query().Get("resumeToken")
	require.NotEmpty(t, resumeToken)

	actionAPI.GET(actionTok.StatusURL[len(actionTok.CoreURL):]).Expect().Status(http.StatusOK).
		JSON().Object().HasValue("status", "COMPLETE").HasValue("id", resumeToken)

	actionAPI.POST("/payments/" + paymentID + "/resume").
		WithJSON(map[string]string{"resumeToken": resumeToken}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("status").String().IsEqual(string(model.StatusSettled))

	e.GET("/redirect/unknown").
		WithRedirectPolicy(httpexpect.DontFollowRedirects).
		Expect().Status(http.StatusNotFound)
}

func TestDirectDebitMandate(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, _ := session(t, e)

	api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{"paymentInstrument": model.DirectDebitMandateInstrument{MandateID: "MD-UNKNOWN"}}).
		Expect().
		Status(http.StatusBadRequest)

	mandateID := api.POST("/gocardless/mandates").
		WithJSON(map[string]any{"id": "proc-gocardless", "bankDetails": map[string]string{"iban": "GB82WEST12345698765432"}}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("mandateId").String().NotEmpty().Raw()

	pmToken := api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{"paymentInstrument": model.DirectDebitMandateInstrument{MandateID: mandateID}}).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("token").String().Raw()

	createPayment(api, pmToken).Value("status").String().IsEqual(string(model.StatusPending))
}

func TestTokenize_RejectsUnknownInstrument(t *testing.T) {
	e, _ := setupServer(t, Options{})
	api, _ := session(t, e)

	api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{"paymentInstrument": map[string]string{"foo": "bar"}}).
		Expect().
		Status(http.StatusBadRequest)
	api.POST("/pci/payment-instruments").
		WithJSON(map[string]any{}).
		Expect().
		Status(http.StatusBadRequest)
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		inst instrumentRecord
		want Outcome
	}{
		{instrumentRecord{Type: model.InstrumentPaymentCard, Number: CardFrictionless}, OutcomeFrictionless},
		{instrumentRecord{Type: model.InstrumentPaymentCard, Number: CardChallenge}, OutcomeChallenge},
		{instrumentRecord{Type: model.InstrumentPaymentCard, Number: CardDeclined}, OutcomeDecline},
		{instrumentRecord{Type: model.InstrumentPaymentCard, Number: "6011111111111117"}, OutcomeApprove},
		{instrumentRecord{Type: model.InstrumentACH}, OutcomeSettleLater},
		{instrumentRecord{Type: model.InstrumentBankRedirect}, OutcomeRedirect},
		{instrumentRecord{Type: model.InstrumentPayPalOrder}, OutcomeApprove},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeFor(tt.inst))
		})
	}
}

func TestCardNetwork(t *testing.T) {
	assert.Equal(t, "VISA", cardNetwork(CardFrictionless))
	assert.Equal(t, "MASTERCARD", cardNetwork(CardChallenge))
	assert.Equal(t, "AMEX", cardNetwork(CardNoThreeDS))
	assert.Equal(t, "DISCOVER", cardNetwork("6011111111111117"))
}
