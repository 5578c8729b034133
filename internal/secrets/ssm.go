package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SSMClient is the subset of *ssm.SSM used here.
type SSMClient interface {
	GetParameterWithContext(ctx aws.Context, input *ssm.GetParameterInput, opts ...request.Option) (*ssm.GetParameterOutput, error)
}

// SSM reads secrets from Parameter Store. Display names are cached;
// passwords are read on every send.
type SSM struct {
	client SSMClient
	names  *expirable.LRU[string, string]
}

func NewSSM(client SSMClient, nameTTL time.Duration) *SSM {
	return &SSM{
		client: client,
		names:  expirable.NewLRU[string, string](256, nil, nameTTL),
	}
}

// Parameter returns a decrypted parameter value. It also serves as the
// config resolver's parameter source.
func (s *SSM) Parameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == ssm.ErrCodeParameterNotFound {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return aws.StringValue(out.Parameter.Value), nil
}

func (s *SSM) DisplayName(ctx context.Context, localPart string) (string, error) {
	if name, ok := s.names.Get(localPart); ok {
		return name, nil
	}

	name, err := s.Parameter(ctx, NamePath(localPart))
	if err != nil {
		return "", err
	}

	s.names.Add(localPart, name)
	return name, nil
}

func (s *SSM) Password(ctx context.Context, localPart string) (string, error) {
	return s.Parameter(ctx, PasswordPath(localPart))
}
