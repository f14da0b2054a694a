package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port               string `envconfig:"PORT" default:"8080"`
	Environment        string `envconfig:"ENV" default:"development"`
	DBConnectionString string `envconfig:"DATABASE_URL" required:"true"`

	// Identity provider settings
	JWKSURL     string `envconfig:"JWKS_URL" required:"true"`
	JWTAudience string `envconfig:"JWT_AUDIENCE" required:"true"`

	// Stripe settings. The secret key and webhook secret may be left empty
	// when GCP_PROJECT_ID is set, in which case they are loaded from Secret
	// Manager at startup.
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceLite     string `envconfig:"STRIPE_PRICE_LITE"`
	StripePricePro      string `envconfig:"STRIPE_PRICE_PRO"`
	CheckoutSuccessURL  string `envconfig:"CHECKOUT_SUCCESS_URL" default:"http://localhost:4200/success"`
	CheckoutCancelURL   string `envconfig:"CHECKOUT_CANCEL_URL" default:"http://localhost:4200/cancel"`

	// GCP settings for secret loading and the entitlement event topic.
	GCPProjectID           string `envconfig:"GCP_PROJECT_ID"`
	EntitlementEventsTopic string `envconfig:"ENTITLEMENT_EVENTS_TOPIC" default:"entitlement-events"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
