package service

import (
	"context"
	"fmt"

	"app/internal/config"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// Secret names expected in the project when Stripe credentials are not
// supplied through the environment.
const (
	secretStripeAPIKey        = "stripe-secret-key"
	secretStripeWebhookSecret = "stripe-webhook-secret"
)

// SecretManagerService reads deployment secrets from GCP Secret Manager.
type SecretManagerService interface {
	AccessSecret(ctx context.Context, name string) (string, error)
}

type secretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP Project ID is not set for the current environment")
	}

	var opts []option.ClientOption
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &secretManagerService{
		client:    client,
		projectID: cfg.GCPProjectID,
	}, nil
}

func (s *secretManagerService) AccessSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)

	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret version %s: %w", name, err)
	}

	return string(result.Payload.Data), nil
}

// LoadStripeSecrets fills the Stripe credentials from Secret Manager when
// they were not provided through the environment.
func LoadStripeSecrets(ctx context.Context, cfg *config.Config, secrets SecretManagerService) error {
	if cfg.StripeSecretKey == "" {
		key, err := secrets.AccessSecret(ctx, secretStripeAPIKey)
		if err != nil {
			return err
		}
		cfg.StripeSecretKey = key
	}
	if cfg.StripeWebhookSecret == "" {
		key, err := secrets.AccessSecret(ctx, secretStripeWebhookSecret)
		if err != nil {
			return err
		}
		cfg.StripeWebhookSecret = key
	}
	return nil
}
