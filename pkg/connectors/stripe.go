package connectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

const stripeAPIBaseURL = "https://api.stripe.com"

// Stripe calls the Stripe REST API with the secret key in "secret_key".
type Stripe struct {
	client  *resty.Client
	baseURL string
}

// StripeOption configures Stripe.
type StripeOption func(*Stripe)

// WithStripeBaseURL overrides the API base URL.
func WithStripeBaseURL(baseURL string) StripeOption {
	return func(s *Stripe) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

func NewStripe(client *resty.Client, opts ...StripeOption) *Stripe {
	s := &Stripe{client: client, baseURL: stripeAPIBaseURL}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Stripe) Type() string { return "stripe" }

func (s *Stripe) Actions() []string {
	return []string{"create_customer", "get_customer", "create_payment_intent"}
}

func (s *Stripe) Invoke(ctx context.Context, action string, params map[string]any, secrets map[string]string) (any, error) {
	if err := checkAction(s, action); err != nil {
		return nil, err
	}

	secretKey, err := requireSecret(secrets, "secret_key")
	if err != nil {
		return nil, err
	}

	request := s.client.R().SetContext(ctx).SetAuthToken(secretKey)

	var resp *resty.Response

	switch action {
	case "create_customer":
		form := formValues(params, "email", "name", "description", "phone")
		resp, err = request.SetFormData(form).Post(s.baseURL + "/v1/customers")
	case "get_customer":
		customerID, paramErr := requireParam(params, "customerId")
		if paramErr != nil {
			return nil, paramErr
		}

		resp, err = request.Get(s.baseURL + "/v1/customers/" + url.PathEscape(customerID))
	case "create_payment_intent":
		if _, paramErr := requireParam(params, "amount"); paramErr != nil {
			return nil, paramErr
		}

		if _, paramErr := requireParam(params, "currency"); paramErr != nil {
			return nil, paramErr
		}

		form := formValues(params, "amount", "currency", "customer", "description")
		resp, err = request.SetFormData(form).Post(s.baseURL + "/v1/payment_intents")
	}

	if err != nil {
		return nil, fmt.Errorf("stripe %s: %w", action, err)
	}

	if err := checkResponse(s.Type(), resp); err != nil {
		return nil, err
	}

	return DecodeBody(resp.Body()), nil
}

func formValues(params map[string]any, keys ...string) map[string]string {
	form := make(map[string]string, len(keys))

	for _, key := range keys {
		if value := stringParam(params, key); value != "" {
			form[key] = value
		}
	}

	return form
}
