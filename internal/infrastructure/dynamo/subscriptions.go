package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-api-notify/internal/domain"
)

// SubscriptionRepo provides typed DynamoDB operations for the push subscriptions
// table. The endpoint is the primary key, so an endpoint belongs to at most one
// recipient at a time.
type SubscriptionRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSubscriptionRepo(client *dynamodb.Client, tableName string) *SubscriptionRepo {
	return &SubscriptionRepo{client: client, tableName: tableName}
}

// Upsert stores s, replacing any record for the same endpoint. It returns the
// previous owner when the endpoint moved between recipients.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s *domain.PushSubscription) (string, error) {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return "", fmt.Errorf("marshal subscription: %w", err)
	}
	out, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(r.tableName),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return "", err
	}
	if out.Attributes == nil {
		return "", nil
	}
	var prev domain.PushSubscription
	if err := attributevalue.UnmarshalMap(out.Attributes, &prev); err != nil {
		return "", err
	}
	if prev.RecipientID == s.RecipientID {
		return "", nil
	}
	return prev.RecipientID, nil
}

func (r *SubscriptionRepo) ListByRecipient(ctx context.Context, recipientID string) ([]domain.PushSubscription, error) {
	subs := []domain.PushSubscription{}
	p := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexUser),
		KeyConditionExpression: aws.String("#uid = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#uid": fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": strVal(recipientID),
		},
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []domain.PushSubscription
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, err
		}
		subs = append(subs, batch...)
	}
	return subs, nil
}

// DeleteOwned removes endpoint only if it belongs to recipientID. It reports
// whether a record was removed.
func (r *SubscriptionRepo) DeleteOwned(ctx context.Context, recipientID, endpoint string) (bool, error) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldEndpoint, endpoint),
		ConditionExpression: aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#owner": fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": strVal(recipientID),
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes endpoint regardless of owner and returns the removed record,
// or nil when nothing was stored.
func (r *SubscriptionRepo) Delete(ctx context.Context, endpoint string) (*domain.PushSubscription, error) {
	out, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          strKey(fieldEndpoint, endpoint),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, err
	}
	if out.Attributes == nil {
		return nil, nil
	}
	var s domain.PushSubscription
	if err := attributevalue.UnmarshalMap(out.Attributes, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
