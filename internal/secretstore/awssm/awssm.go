// Package awssm implements the secret store on AWS Secrets Manager. It
// exists for deployments whose credential vault is Secrets Manager
// instead of a self-hosted REST vault; both sit behind the same
// secretstore.Store interface.
package awssm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/authrelay/authrelay/internal/logging"
	"github.com/authrelay/authrelay/internal/secretstore"
)

// ClientAPI is the subset of the Secrets Manager client the store uses.
// Defined as an interface so tests can inject a mock.
type ClientAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// Store is the Secrets Manager-backed secret store. Logical paths map to
// secret names under a configurable prefix: creds/acme becomes
// {prefix}/creds/acme.
type Store struct {
	name   string
	client ClientAPI
	prefix string
	logger *logging.Logger
}

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithClient sets a custom client. For tests.
func WithClient(client ClientAPI) Option {
	return func(s *Store) {
		s.client = client
	}
}

// New creates a Secrets Manager store. Region, endpoint, and static
// credentials (for LocalStack) come from the config block; everything
// else follows the default AWS credential chain.
func New(name string, config map[string]interface{}, logger *logging.Logger, opts ...Option) (*Store, error) {
	region := "us-east-1"
	if r, ok := config["region"].(string); ok && r != "" {
		region = r
	}
	prefix := "authrelay"
	if p, ok := config["prefix"].(string); ok && p != "" {
		prefix = strings.Trim(p, "/")
	}

	s := &Store{
		name:   name,
		prefix: prefix,
		logger: logger.WithComponent("secretstore.awssm"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		var configOpts []func(*awsconfig.LoadOptions) error
		configOpts = append(configOpts, awsconfig.WithRegion(region))

		accessKeyID, _ := config["access_key_id"].(string)
		secretAccessKey, _ := config["secret_access_key"].(string)
		if accessKeyID != "" && secretAccessKey != "" {
			configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
			))
		}

		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), configOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		var clientOpts []func(*secretsmanager.Options)
		if endpoint, ok := config["endpoint"].(string); ok && endpoint != "" {
			clientOpts = append(clientOpts, func(o *secretsmanager.Options) {
				o.BaseEndpoint = aws.String(endpoint)
			})
		}
		s.client = secretsmanager.NewFromConfig(cfg, clientOpts...)
	}

	return s, nil
}

// Factory returns a secretstore.Factory for Secrets Manager stores.
func Factory(logger *logging.Logger) secretstore.Factory {
	return func(_ context.Context, name string, config map[string]interface{}) (secretstore.Store, error) {
		return New(name, config, logger)
	}
}

// Name implements secretstore.Store.
func (s *Store) Name() string {
	return s.name
}

// Authenticate implements secretstore.Store. The SDK authenticates per
// request through its credential chain, so this is a connectivity probe.
func (s *Store) Authenticate(ctx context.Context) error {
	_, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName("probe")),
	})
	if err == nil || secretstore.IsNotFound(s.classify(err, "probe")) {
		return nil
	}
	return s.classify(err, "probe")
}

// Get implements secretstore.Store.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretName(path)),
	})
	if err != nil {
		return nil, s.classify(err, path)
	}
	if out.SecretBinary != nil {
		return out.SecretBinary, nil
	}
	if out.SecretString != nil {
		return []byte(*out.SecretString), nil
	}
	return nil, &secretstore.NotFoundError{Store: s.name, Path: path}
}

// Put implements secretstore.Store. Creates the secret on first write,
// then appends versions.
func (s *Store) Put(ctx context.Context, path string, value []byte) error {
	name := s.secretName(path)

	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretBinary: value,
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretBinary: value,
		})
		if err != nil {
			return s.classify(err, path)
		}
		return nil
	}
	return s.classify(err, path)
}

// Delete implements secretstore.Store. Uses force deletion so the path
// can be reused immediately, matching vault delete semantics.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(s.secretName(path)),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil {
		classified := s.classify(err, path)
		if secretstore.IsNotFound(classified) {
			return nil
		}
		return classified
	}
	return nil
}

// Connected implements secretstore.Store. The SDK holds no session, so
// this is always true; failures surface per operation.
func (s *Store) Connected() bool {
	return true
}

func (s *Store) secretName(path string) string {
	return s.prefix + "/" + path
}

// classify maps SDK errors onto the store error taxonomy.
func (s *Store) classify(err error, path string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &secretstore.NotFoundError{Store: s.name, Path: path}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UnrecognizedClientException"),
		strings.Contains(msg, "AccessDeniedException"),
		strings.Contains(msg, "InvalidSignatureException"),
		strings.Contains(msg, "ExpiredTokenException"):
		return &secretstore.AuthError{Store: s.name, Err: err}
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "dial tcp"),
		strings.Contains(msg, "timeout"),
		errors.Is(err, context.DeadlineExceeded):
		return &secretstore.ConnectionError{Store: s.name, Err: err}
	default:
		return fmt.Errorf("secretsmanager %s: %w", path, err)
	}
}
