package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-api-notify/internal/domain"
)

// PreferenceRepo stores one preference document per recipient.
type PreferenceRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewPreferenceRepo(client *dynamodb.Client, tableName string) *PreferenceRepo {
	return &PreferenceRepo{client: client, tableName: tableName}
}

func (r *PreferenceRepo) Put(ctx context.Context, p *domain.UserNotificationPreference) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal preference: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// Get returns the stored preference, or ErrNotFound when the recipient never saved one.
func (r *PreferenceRepo) Get(ctx context.Context, recipientID string) (*domain.UserNotificationPreference, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldUserID, recipientID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("preference not found: %w", domain.ErrNotFound)
	}
	var p domain.UserNotificationPreference
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
