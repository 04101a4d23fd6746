package config

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmMaxBatchSize is the GetParameters limit per request.
const ssmMaxBatchSize = 10

// ParameterStore fetches parameter values by name. Names the store does not
// hold are absent from the result; the loader reports them.
type ParameterStore interface {
	Parameters(ctx context.Context, names []string) (map[string]string, error)
}

type ssmGetter interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMStore reads decrypted parameters from SSM Parameter Store. The client is
// built on first use, so a local run that resolves nothing never loads AWS
// credentials.
type SSMStore struct {
	region      string
	endpointURL string
	client      ssmGetter
}

// NewSSMStore creates a store for region. endpointURL is passed to LoadAWS.
func NewSSMStore(region, endpointURL string) *SSMStore {
	return &SSMStore{region: region, endpointURL: endpointURL}
}

// Parameters implements ParameterStore.
func (s *SSMStore) Parameters(ctx context.Context, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	if len(names) == 0 {
		return values, nil
	}

	if s.client == nil {
		awsCfg, err := LoadAWS(ctx, s.region, s.endpointURL)
		if err != nil {
			return nil, err
		}
		s.client = ssm.NewFromConfig(awsCfg)
	}

	for batch := range slices.Chunk(names, ssmMaxBatchSize) {
		out, err := s.client.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          batch,
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("ssm: GetParameters %v: %w", batch, err)
		}
		for _, p := range out.Parameters {
			values[aws.ToString(p.Name)] = aws.ToString(p.Value)
		}
	}
	return values, nil
}
