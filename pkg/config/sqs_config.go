package config

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSConfig holds configuration for SQS connection
type SQSConfig struct {
	Region     string `env:"SQS_REGION" envDefault:"us-east-1"`
	Profile    string `env:"SQS_PROFILE"` // Optional AWS profile
	Prefix     string `env:"SQS_PREFIX"`  // Queue URL prefix, e.g. https://sqs.us-east-1.amazonaws.com/123456789012
	DeadSuffix string `env:"SQS_DEAD_SUFFIX" envDefault:"-dead"`
}

// LoadSQSClient loads an SQS client from config
func LoadSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sqs.NewFromConfig(awsCfg), nil
}
