// Package keys resolves LLM provider credentials from the process
// environment. Keys are read lazily so a deployment only needs the
// variables for the providers its teams actually use.
package keys

import (
	"errors"
	"fmt"
	"os"

	"github.com/covey-team/covey/pkg/models"
)

// ErrMissingCredentials is returned when the environment lacks the
// variables a provider requires.
var ErrMissingCredentials = errors.New("missing credentials")

// Credentials holds what a provider client needs to authenticate.
// APIKey is set for key-based providers; the AWS fields are set for
// bedrock.
type Credentials struct {
	APIKey             string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	Region             string
}

// Provider resolves credentials for an LLM provider.
type Provider interface {
	// Credentials returns the credentials for the given provider, or an
	// error wrapping ErrMissingCredentials when they are not configured.
	Credentials(provider models.Provider) (Credentials, error)
}

// Environment variable names per provider.
const (
	envOpenAIKey     = "OPENAI_API_KEY"
	envOpenRouterKey = "OPENROUTER_API_KEY"
	envAnthropicKey  = "ANTHROPIC_API_KEY"
	envGoogleKey     = "GOOGLE_API_KEY"

	envAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	envAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	envAWSSessionToken    = "AWS_SESSION_TOKEN"
	envAWSDefaultRegion   = "AWS_DEFAULT_REGION"
)

// EnvProvider reads credentials from environment variables. The zero
// value reads from os.LookupEnv.
type EnvProvider struct {
	// Lookup overrides os.LookupEnv, for tests.
	Lookup func(key string) (string, bool)
}

// NewEnvProvider creates an EnvProvider backed by the real environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) lookup(key string) (string, bool) {
	if p.Lookup != nil {
		return p.Lookup(key)
	}
	return os.LookupEnv(key)
}

// Credentials implements Provider.
func (p *EnvProvider) Credentials(provider models.Provider) (Credentials, error) {
	switch provider {
	case models.ProviderOpenAI:
		return p.keyed(provider, envOpenAIKey)
	case models.ProviderOpenRouter:
		return p.keyed(provider, envOpenRouterKey)
	case models.ProviderAnthropic:
		return p.keyed(provider, envAnthropicKey)
	case models.ProviderGoogle:
		return p.keyed(provider, envGoogleKey)
	case models.ProviderBedrock:
		return p.bedrock()
	default:
		return Credentials{}, fmt.Errorf("unknown provider %q: %w", provider, ErrMissingCredentials)
	}
}

func (p *EnvProvider) keyed(provider models.Provider, envVar string) (Credentials, error) {
	key, ok := p.lookup(envVar)
	if !ok || key == "" {
		return Credentials{}, fmt.Errorf("provider %q requires %s: %w", provider, envVar, ErrMissingCredentials)
	}
	return Credentials{APIKey: key}, nil
}

func (p *EnvProvider) bedrock() (Credentials, error) {
	accessKey, _ := p.lookup(envAWSAccessKeyID)
	secretKey, _ := p.lookup(envAWSSecretAccessKey)
	if accessKey == "" || secretKey == "" {
		return Credentials{}, fmt.Errorf("provider %q requires %s and %s: %w",
			models.ProviderBedrock, envAWSAccessKeyID, envAWSSecretAccessKey, ErrMissingCredentials)
	}
	token, _ := p.lookup(envAWSSessionToken)
	region, _ := p.lookup(envAWSDefaultRegion)
	return Credentials{
		AWSAccessKeyID:     accessKey,
		AWSSecretAccessKey: secretKey,
		AWSSessionToken:    token,
		Region:             region,
	}, nil
}

// StaticProvider returns fixed credentials for every provider. Used in
// tests and for single-tenant deployments with one shared key.
type StaticProvider struct {
	Creds Credentials
}

// Credentials implements Provider.
func (p *StaticProvider) Credentials(models.Provider) (Credentials, error) {
	return p.Creds, nil
}
