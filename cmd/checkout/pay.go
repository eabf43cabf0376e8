package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/marlonbarreto-git/nimbus-checkout"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
	"github.com/marlonbarreto-git/nimbus-checkout/internal/threeds"
)

// logPresenter prints redirect actions for the operator to open by hand.
type logPresenter struct{}

func (logPresenter) Present(ctx context.Context, p checkout.Presentation) error {
	slog.Info("open_to_continue", "attempt_id", p.AttemptID, "action", p.Action, "url", p.RedirectURL)
	return nil
}

func (logPresenter) Dismiss(attemptID string) {}

func payCmd(load func() (config.Settings, error)) *cobra.Command {
	var (
		backend     string
		clientToken string
		method      string
		number      string
		cvv         string
		expiry      string
		bankType    string
		sdkName     string
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Run one payment end to end and print the outcome",
		Long: `Run one payment end to end and print the outcome.

Examples:
  checkout pay --card 5555555555554444
  checkout pay --method bank-redirect --bank ADYEN_IDEAL
  NIMBUS_CLIENT_TOKEN=... checkout pay --card 4111111111111111`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if clientToken == "" {
				clientToken = os.Getenv(config.EnvPrefix + "_CLIENT_TOKEN")
			}
			if clientToken == "" {
				if clientToken, err = requestClientToken(ctx, backend); err != nil {
					return err
				}
			}

			sdk, ok := threeds.MockSDKByName(sdkName)
			if !ok {
				return fmt.Errorf("unknown 3ds sdk preset %q", sdkName)
			}
			co, err := checkout.New(ctx, clientToken, checkout.Options{
				Settings:  settings,
				SDK:       sdk,
				Presenter: logPresenter{},
			})
			if err != nil {
				return err
			}
			defer co.Close()

			m, err := buildMethod(method, number, cvv, expiry, bankType)
			if err != nil {
				return err
			}
			outcome, err := co.Pay(ctx, m)
			if err != nil {
				return fmt.Errorf("payment %s: %w", checkout.KindOf(err), err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "http://localhost"+config.MockBackendAddr, "backend base URL used to request a client token")
	cmd.Flags().StringVar(&clientToken, "client-token", "", "session token (default $NIMBUS_CLIENT_TOKEN or one from --backend)")
	cmd.Flags().StringVarP(&method, "method", "m", "card", "payment method: card, paypal, ach, bank-redirect")
	cmd.Flags().StringVar(&number, "card", "4111111111111111", "card number")
	cmd.Flags().StringVar(&cvv, "cvv", "123", "card security code")
	cmd.Flags().StringVar(&expiry, "expiry", "12/30", "card expiry as MM/YY")
	cmd.Flags().StringVar(&bankType, "bank", "ADYEN_IDEAL", "bank redirect payment method type")
	cmd.Flags().StringVar(&sdkName, "sdk", "approving", "mock 3DS SDK preset: approving, attempted, rejecting, abandoning, stalled")
	return cmd
}

func buildMethod(method, number, cvv, expiry, bankType string) (checkout.Method, error) {
	switch method {
	case "card":
		month, year, ok := strings.Cut(expiry, "/")
		if !ok {
			return nil, fmt.Errorf("expiry %q is not MM/YY", expiry)
		}
		return checkout.NewCard(checkout.CardForm{Number: number, CVV: cvv, ExpiryMonth: month, ExpiryYear: year}), nil
	case "paypal":
		return &checkout.PayPalOrder{OrderID: "ORDER-CLI"}, nil
	case "ach":
		return checkout.NewACH(checkout.ACHForm{
			AccountHolderName: "CLI Shopper",
			AccountNumber:     "000123456789",
			RoutingNumber:     "011000015",
		}), nil
	case "bank-redirect":
		return checkout.NewBankRedirect(checkout.BankRedirectForm{Type: bankType, Locale: "en-US"}), nil
	default:
		return nil, fmt.Errorf("unknown payment method %q", method)
	}
}

// requestClientToken asks a backend for a new session token.
func requestClientToken(ctx context.Context, backend string) (string, error) {
	var out struct {
		ClientToken string `json:"clientToken"`
	}
	resp, err := resty.New().R().
		SetContext(ctx).
		SetResult(&out).
		Post(strings.TrimRight(backend, "/") + "/client-session")
	if err != nil {
		return "", fmt.Errorf("request client token: %w", err)
	}
	if resp.IsError() || out.ClientToken == "" {
		return "", fmt.Errorf("request client token: backend answered %s", resp.Status())
	}
	return out.ClientToken, nil
}
