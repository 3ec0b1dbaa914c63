package dynamo

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewClient creates a DynamoDB client. When endpointURL is set (LocalStack),
// it overrides the endpoint so all traffic goes to the local instance.
func NewClient(awsCfg aws.Config, endpointURL string) *dynamodb.Client {
	var clientOpts []func(*dynamodb.Options)
	if endpointURL != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, clientOpts...)
}
