// Package checkout is the embeddable checkout SDK. A Checkout is built from
// one session token and runs one payment attempt at a time.
package checkout

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/apiclient"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/cache"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/clienttoken"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/configuration"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/model"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/redirect"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/resume"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/threeds"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/tokenization"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/viewmodel"
)

// redisPrefix namespaces configuration snapshots in a shared Redis.
const redisPrefix = "nimbus:"

// Options wires host-provided pieces into a Checkout. Every field is optional.
type Options struct {
	// Settings defaults to config.Default when left zero.
	Settings config.Settings
	// SDK is the vendor 3DS SDK. It is wrapped by the process-wide gateway.
	SDK threeds.SDK
	// Gateway replaces the process-wide gateway, mainly in tests.
	Gateway *threeds.Gateway
	// Presenter shows redirect and voucher actions. Without one those actions
	// end the attempt as unsupported.
	Presenter redirect.Presenter
	// Dispatcher delivers completions and challenge screens on the UI loop.
	Dispatcher resume.Dispatcher
	// HTTPClient replaces the default client built from Settings.HTTPTimeout.
	HTTPClient *http.Client
	// Cache replaces the configuration cache chosen from Settings.RedisURL.
	Cache  cache.Store
	Logger *slog.Logger
}

// Checkout is one SDK instance.
type Checkout struct {
	settings   config.Settings
	tokens     *clienttoken.Store
	client     *apiclient.Client
	configs    *configuration.Service
	controller *resume.Controller
	driver     *viewmodel.Driver
	gateway    *threeds.Gateway
	redirects  *redirect.Handler
	closer     io.Closer
	logger     *slog.Logger
}

// New decodes clientToken and wires every component. It fails when the token
// or the settings are invalid, or when a configured Redis cannot be reached.
func New(ctx context.Context, clientToken string, opts Options) (*Checkout, error) {
	settings := opts.Settings
	if settings == (config.Settings{}) {
		settings = config.Default()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokens := clienttoken.NewStore(logger)
	if _, err := tokens.Set(clientToken); err != nil {
		return nil, err
	}

	var client *apiclient.Client
	if opts.HTTPClient != nil {
		client = apiclient.NewWithHTTPClient(opts.HTTPClient, logger)
	} else {
		client = apiclient.New(settings.HTTPTimeout, logger)
	}

	c := &Checkout{settings: settings, tokens: tokens, client: client, logger: logger}

	store := opts.Cache
	switch {
	case store != nil:
	case settings.RedisURL != "":
		rs, err := cache.NewRedisStore(ctx, settings.RedisURL, redisPrefix, logger)
		if err != nil {
			return nil, err
		}
		store, c.closer = rs, rs
	default:
		store = cache.NewMemoryStore()
	}
	c.configs = configuration.NewService(tokens, client, store, logger)

	c.controller = resume.New(tokenization.NewService(tokens, client, logger), client, tokens, resume.Options{
		MaxResumeHops: settings.MaxResumeHops,
		Dispatcher:    opts.Dispatcher,
		Logger:        logger,
	})

	c.gateway = opts.Gateway
	if c.gateway == nil && opts.SDK != nil {
		c.gateway = threeds.Shared(opts.SDK, logger)
	}
	if c.gateway != nil {
		if opts.Dispatcher != nil {
			c.gateway.SetDispatcher(threeds.Dispatcher(opts.Dispatcher))
		}
		flow := threeds.NewFlow(c.gateway, client, c.configs, settings.RequestorAppURL, logger)
		c.controller.Register(model.ActionThreeDSAuthentication, flow)
	}

	if opts.Presenter != nil {
		c.redirects = redirect.NewHandler(opts.Presenter, client, settings.StatusPollInterval, settings.StatusPollTimeout, logger)
		for _, name := range []model.ActionName{model.ActionUsePrimerSDK, model.ActionPaymentMethodVoucher, model.ActionProcessor3DS} {
			c.controller.Register(name, c.redirects)
		}
	}

	c.driver = viewmodel.NewDriver(c.configs, c.controller, logger)
	logger.Info("checkout_ready",
		"three_ds", c.gateway != nil,
		"redirects", opts.Presenter != nil,
		"redis_cache", c.closer != nil,
	)
	return c, nil
}

// Start submits m and returns the attempt id. completion is called exactly
// once with the outcome or the error.
func (c *Checkout) Start(ctx context.Context, m Method, completion Completion) (string, error) {
	return c.driver.Submit(ctx, m, completion)
}

// Pay submits m and blocks until the attempt is terminal.
func (c *Checkout) Pay(ctx context.Context, m Method) (*PaymentOutcome, error) {
	return c.driver.Pay(ctx, m)
}

// Cancel stops the running attempt. It returns false when nothing is running.
func (c *Checkout) Cancel() bool {
	return c.controller.Cancel()
}

// Reset allows a new attempt after a terminal one.
func (c *Checkout) Reset() error {
	return c.controller.Reset()
}

// State returns the state of the current attempt.
func (c *Checkout) State() State {
	return c.controller.State()
}

// Journal returns the finished attempts of this instance.
func (c *Checkout) Journal() *resume.Journal {
	return c.controller.Journal()
}

// PaymentMethods lists the methods configured for the current session.
func (c *Checkout) PaymentMethods(ctx context.Context) ([]model.PaymentMethod, error) {
	cfg, err := c.configs.Get(ctx)
	if err != nil {
		return nil, err
	}
	return cfg.PaymentMethods, nil
}

// SetClientToken replaces the session token between attempts.
func (c *Checkout) SetClientToken(raw string) error {
	if st := c.controller.State(); st != resume.StateIdle && !st.IsTerminal() {
		return resume.ErrAttemptInProgress
	}
	_, err := c.tokens.Set(raw)
	return err
}

// ResumeTokenParam is the return URL query parameter carrying a resume token
// for a waiting redirect action.
const ResumeTokenParam = "resumeToken"

// HandleOpenURL forwards a custom-scheme app return to the running 3DS
// challenge, or hands its resumeToken parameter to a waiting redirect action.
// It reports whether either took it.
func (c *Checkout) HandleOpenURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	if c.gateway != nil && c.gateway.HandleAppReturn(u) {
		return true
	}
	if token := u.Query().Get(ResumeTokenParam); token != "" {
		return c.CompleteRedirect(token)
	}
	return false
}

// CompleteRedirect resumes a waiting redirect or voucher action with a token
// the host obtained itself, without waiting for the next status poll.
func (c *Checkout) CompleteRedirect(resumeToken string) bool {
	if c.redirects == nil {
		return false
	}
	return c.redirects.Deliver(resumeToken)
}

// HandleContinueActivity forwards a universal-link app return. Only http and
// https links qualify.
func (c *Checkout) HandleContinueActivity(u *url.URL) bool {
	if u == nil || (u.Scheme != "https" && u.Scheme != "http") {
		return false
	}
	return c.HandleOpenURL(u)
}

// NewDirectDebit creates a direct-debit method whose mandate is signed
// through this instance's backend.
func (c *Checkout) NewDirectDebit(details MandateDetails) *viewmodel.DirectDebit {
	return viewmodel.NewDirectDebit(details, mandateCreator{tokens: c.tokens, client: c.client})
}

// Close releases the configuration cache connection, if any.
func (c *Checkout) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

type mandateCreator struct {
	tokens *clienttoken.Store
	client *apiclient.Client
}

func (m mandateCreator) CreateMandate(ctx context.Context, pm model.PaymentMethod, details MandateDetails) (string, error) {
	session, _, err := m.tokens.Current()
	if err != nil {
		return "", err
	}
	var req apiclient.MandateRequest
	req.ProcessorConfigID = pm.ProcessorConfigID
	req.BankDetails.IBAN = details.IBAN
	req.UserDetails.FirstName = details.FirstName
	req.UserDetails.LastName = details.LastName
	req.UserDetails.Email = details.Email
	req.UserDetails.AddressLine1 = details.AddressLine1
	req.UserDetails.City = details.City
	req.UserDetails.PostalCode = details.PostalCode
	req.UserDetails.CountryCode = details.CountryCode
	return m.client.CreateMandate(ctx, session, req)
}
