// Package secrets fills credentials into the configuration from AWS SSM parameters.
package secrets

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"moff.io/moff-wallet/internal/config"
	"moff.io/moff-wallet/pkg/errors"
	"moff.io/moff-wallet/pkg/log"
)

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type ParameterStore struct {
	client ssmAPI
}

func NewParameterStore(ctx context.Context, region string) (*ParameterStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &ParameterStore{client: ssm.NewFromConfig(cfg)}, nil
}

// Get returns the decrypted value of the parameter called name.
func (p *ParameterStore) Get(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: true,
	})
	if err != nil {
		return "", errors.Wrapf(err, "query parameter %v from ssm", name)
	}
	if out.Parameter == nil {
		return "", errors.Errorf("ssm parameter %v has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Resolve overwrites every value conf.Secrets names a parameter for.
func (p *ParameterStore) Resolve(ctx context.Context, conf *config.Configuration) error {
	targets := []struct {
		param string
		dst   *string
	}{
		{conf.Secrets.SentryDSN, &conf.SentryDSN},
		{conf.Secrets.LarkAlarmWebhook, &conf.LarkAlarmWebhook},
		{conf.Secrets.PostgresPassword, &conf.SessionStore.Postgres.Password},
	}
	for _, t := range targets {
		if t.param == "" {
			continue
		}
		v, err := p.Get(ctx, t.param)
		if err != nil {
			return err
		}
		*t.dst = v
		log.Debugf("resolved ssm parameter %v", t.param)
	}
	return nil
}

// Resolve looks conf's secrets up in SSM when conf.Secrets.SSMRegion is set.
func Resolve(ctx context.Context, conf *config.Configuration) error {
	if conf.Secrets.SSMRegion == "" {
		return nil
	}
	p, err := NewParameterStore(ctx, conf.Secrets.SSMRegion)
	if err != nil {
		return err
	}
	return p.Resolve(ctx, conf)
}
