package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-api-notify/internal/domain"
)

// ReminderRepo persists scheduled reminders so they survive restarts.
type ReminderRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewReminderRepo(client *dynamodb.Client, tableName string) *ReminderRepo {
	return &ReminderRepo{client: client, tableName: tableName}
}

func (r *ReminderRepo) Put(ctx context.Context, rem *domain.ScheduledReminder) error {
	item, err := attributevalue.MarshalMap(rem)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *ReminderRepo) Delete(ctx context.Context, reminderID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldReminderID, reminderID),
	})
	return err
}

// List scans every stored reminder. The table only holds pending reminders,
// so a full scan at startup stays small.
func (r *ReminderRepo) List(ctx context.Context) ([]domain.ScheduledReminder, error) {
	reminders := []domain.ScheduledReminder{}
	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName: aws.String(r.tableName),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []domain.ScheduledReminder
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
			return nil, err
		}
		reminders = append(reminders, batch...)
	}
	return reminders, nil
}
