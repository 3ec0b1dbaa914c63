package dynamo

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-api-notify/internal/config"
)

// index is a GSI over string attributes; sort may be empty.
type index struct {
	name, hash, sort string
}

// tableDef describes one table: a string hash key, optional GSIs and an
// optional TTL attribute.
type tableDef struct {
	name    string
	hash    string
	indexes []index
	ttlAttr string
}

func tableDefs(tables config.DynamoTables) []tableDef {
	return []tableDef{
		{
			name:    tables.Notifications,
			hash:    fieldNotificationID,
			indexes: []index{{indexUserCreated, fieldUserID, fieldCreatedKey}},
			ttlAttr: fieldExpiresAt,
		},
		{name: tables.Preferences, hash: fieldUserID},
		{
			name:    tables.PushSubscriptions,
			hash:    fieldEndpoint,
			indexes: []index{{indexUser, fieldUserID, ""}},
		},
		{name: tables.Reminders, hash: fieldReminderID},
	}
}

// Bootstrap creates every table and GSI that does not exist yet. Existing
// tables are left untouched, so it runs on every startup.
func Bootstrap(ctx context.Context, client *dynamodb.Client, tables config.DynamoTables) {
	for _, def := range tableDefs(tables) {
		createTable(ctx, client, def.input())
		if def.ttlAttr != "" {
			enableTTL(ctx, client, def.name, def.ttlAttr)
		}
	}
}

func (d tableDef) input() *dynamodb.CreateTableInput {
	seen := map[string]bool{}
	var attrs []types.AttributeDefinition
	addAttr := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		attrs = append(attrs, types.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: types.ScalarAttributeTypeS,
		})
	}

	addAttr(d.hash)
	var gsis []types.GlobalSecondaryIndex
	for _, ix := range d.indexes {
		addAttr(ix.hash)
		addAttr(ix.sort)
		gsis = append(gsis, types.GlobalSecondaryIndex{
			IndexName:  aws.String(ix.name),
			KeySchema:  keySchema(ix.hash, ix.sort),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}

	return &dynamodb.CreateTableInput{
		TableName:              aws.String(d.name),
		BillingMode:            types.BillingModePayPerRequest,
		AttributeDefinitions:   attrs,
		KeySchema:              keySchema(d.hash, ""),
		GlobalSecondaryIndexes: gsis,
	}
}

func keySchema(hash, sort string) []types.KeySchemaElement {
	ks := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
	if sort != "" {
		ks = append(ks, types.KeySchemaElement{AttributeName: aws.String(sort), KeyType: types.KeyTypeRange})
	}
	return ks
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) {
	if _, err := client.CreateTable(ctx, input); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			slog.Warn("could not create table", "table", aws.ToString(input.TableName), "err", err)
		}
		return
	}
	slog.Info("created table", "table", aws.ToString(input.TableName))
}

func enableTTL(ctx context.Context, client *dynamodb.Client, table, attr string) {
	_, err := client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String(attr),
		},
	})
	if err != nil {
		slog.Warn("could not enable TTL", "table", table, "err", err)
	}
}
