package rotator

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"clashkit/utils"
)

// SecretsManagerAPI is the part of the AWS Secrets Manager client the store uses.
type SecretsManagerAPI interface {
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
}

// SecretsManagerStore writes the token as the current version of an AWS secret.
type SecretsManagerStore struct {
	client          SecretsManagerAPI
	secretId        string
	createIfMissing bool
}

// NewSecretsManagerStore builds a client from the default AWS credential chain.
func NewSecretsManagerStore(ctx context.Context, conf *utils.Config) (*SecretsManagerStore, error) {
	var opts []func(*config.LoadOptions) error
	if region := conf.Rotator.AWS.Region; region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws configuration")
	}
	return NewSecretsManagerStoreWithClient(secretsmanager.NewFromConfig(cfg), conf), nil
}

// NewSecretsManagerStoreWithClient writes to secret-id, or to the rotator secret name when no id
// is configured.
func NewSecretsManagerStoreWithClient(client SecretsManagerAPI, conf *utils.Config) *SecretsManagerStore {
	secretId := conf.Rotator.AWS.SecretId
	if secretId == "" {
		secretId = conf.Rotator.SecretName
	}
	return &SecretsManagerStore{
		client:          client,
		secretId:        secretId,
		createIfMissing: conf.Rotator.AWS.CreateIfMissing,
	}
}

func (s *SecretsManagerStore) Target() string {
	return "aws-secretsmanager:" + s.secretId
}

func (s *SecretsManagerStore) Put(ctx context.Context, token string) error {
	_, err := s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.secretId),
		SecretString: aws.String(token),
	})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) || !s.createIfMissing {
		return errors.Wrapf(err, "failed to put value of secret %s", s.secretId)
	}

	log.Info().Str("secret", s.secretId).Msg("secret does not exist, creating it")
	_, err = s.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(s.secretId),
		SecretString: aws.String(token),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create secret %s", s.secretId)
	}
	return nil
}
