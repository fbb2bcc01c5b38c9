package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/stripe/stripe-go/v79"
	stripeclient "github.com/stripe/stripe-go/v79/client"
)

// ErrNotConfigured means no Stripe key was provided; deposit authorization is
// skipped in that case.
var ErrNotConfigured = errors.New("payments: stripe not configured")

// Client wraps the Stripe API as a constructor-injected dependency with an
// explicit lifecycle. The underlying API handle is built lazily on first use
// and validated once, instead of mutating the package-level stripe.Key
// singleton.
type Client struct {
	key  string
	once sync.Once
	api  *stripeclient.API
	err  error
}

type Config struct {
	SecretKey string
}

func New(cfg Config) *Client {
	return &Client{key: strings.TrimSpace(cfg.SecretKey)}
}

// Enabled reports whether a key is configured at all. Callers should treat a
// disabled client as "no deposit required".
func (c *Client) Enabled() bool {
	return c.key != ""
}

func (c *Client) init() error {
	c.once.Do(func() {
		if c.key == "" {
			c.err = ErrNotConfigured
			return
		}
		if !strings.HasPrefix(c.key, "sk_") && !strings.HasPrefix(c.key, "rk_") {
			c.err = fmt.Errorf("payments: secret key has unexpected format")
			return
		}
		api := &stripeclient.API{}
		api.Init(c.key, nil)
		c.api = api
	})
	return c.err
}

// AuthorizeDeposit places a manual-capture hold for the given amount against
// an appointment. The returned ID is the PaymentIntent ID; capture and refund
// flows live with the external billing system.
func (c *Client) AuthorizeDeposit(ctx context.Context, appointmentID string, amountCents int64, currency string) (string, error) {
	if err := c.init(); err != nil {
		return "", err
	}
	if amountCents <= 0 {
		return "", fmt.Errorf("payments: invalid deposit amount %d", amountCents)
	}
	if currency == "" {
		currency = "usd"
	}

	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"appointment_id": appointmentID,
			},
		},
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// DepositCents converts a decimal price string ("45.00") into a hold amount.
// Malformed prices yield zero, which disables the hold rather than failing
// the booking.
func DepositCents(price string, percent int) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(price), 64)
	if err != nil || f <= 0 || percent <= 0 {
		return 0
	}
	return int64(f * 100 * float64(percent) / 100)
}
