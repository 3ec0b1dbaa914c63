package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-api-notify/internal/domain"
	"github.com/go-api-notify/internal/pkg/id"
	"golang.org/x/sync/errgroup"
)

// createdKeyLayout is fixed-width so that lexical order on the GSI sort key
// equals chronological order.
const createdKeyLayout = "2006-01-02T15:04:05.000000000Z"

func createdKey(t time.Time) string {
	return t.UTC().Format(createdKeyLayout)
}

// notificationItem is the stored shape of a notification: the domain record
// plus the GSI sort key.
type notificationItem struct {
	domain.Notification
	CreatedKey string `dynamodbav:"created_key"`
	ExpiresAt  int64  `dynamodbav:"expires_at,omitempty"`
}

// NotificationAPI is the subset of the DynamoDB client the notification repo
// calls. *dynamodb.Client satisfies it.
type NotificationAPI interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// NotificationRepo provides typed DynamoDB operations for the notifications table.
type NotificationRepo struct {
	client    NotificationAPI
	tableName string
	retention time.Duration
}

// NewNotificationRepo creates the repo. A positive retention stamps every new
// record with an expiry so DynamoDB TTL removes it; zero keeps records forever.
func NewNotificationRepo(client NotificationAPI, tableName string, retention time.Duration) *NotificationRepo {
	return &NotificationRepo{client: client, tableName: tableName, retention: retention}
}

// Create stores a new record, assigning its id, creation time and initial
// status when unset.
func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.NotificationID == "" {
		n.NotificationID = id.NewAt(n.CreatedAt)
	}
	if n.Status == "" {
		n.Status = domain.StatusCreated
	}
	rec := notificationItem{Notification: *n, CreatedKey: createdKey(n.CreatedAt)}
	if r.retention > 0 {
		rec.ExpiresAt = n.CreatedAt.Add(r.retention).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": fieldNotificationID,
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("notification %s exists: %w", n.NotificationID, domain.ErrConflict)
	}
	return err
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldNotificationID, notificationID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	var item notificationItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item.Notification, nil
}

// recipientQuery queries the user_id-created_key GSI newest first, optionally
// restricted to unread records.
func (r *NotificationRepo) recipientQuery(recipientID string, unreadOnly bool) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexUserCreated),
		KeyConditionExpression: aws.String("#uid = :uid"),
		ExpressionAttributeNames: map[string]string{
			"#uid": fieldUserID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": strVal(recipientID),
		},
		ScanIndexForward: aws.Bool(false),
	}
	if unreadOnly {
		in.FilterExpression = aws.String("#read = :false")
		in.ExpressionAttributeNames["#read"] = fieldIsRead
		in.ExpressionAttributeValues[":false"] = boolVal(false)
	}
	return in
}

// count runs a COUNT query to completion.
func (r *NotificationRepo) count(ctx context.Context, in *dynamodb.QueryInput) (int, error) {
	in.Select = types.SelectCount
	total := 0
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		total += int(out.Count)
	}
	return total, nil
}

// pageWindow collects one page out of a stream of query batches: it drops
// the first skip items across batches and keeps at most limit.
type pageWindow struct {
	skip  int
	limit int
	items []notificationItem
}

func (w *pageWindow) full() bool {
	return len(w.items) >= w.limit
}

func (w *pageWindow) add(batch []notificationItem) {
	if w.skip >= len(batch) {
		w.skip -= len(batch)
		return
	}
	batch = batch[w.skip:]
	w.skip = 0
	if room := w.limit - len(w.items); len(batch) > room {
		batch = batch[:room]
	}
	w.items = append(w.items, batch...)
}

// FindPage returns one page of a recipient's notifications, newest first, and
// the total matching count. Page and Limit must already be normalised.
func (r *NotificationRepo) FindPage(ctx context.Context, recipientID string, q domain.PageQuery) (*domain.NotificationPage, error) {
	page := &domain.NotificationPage{Items: []domain.Notification{}, Page: q.Page, Limit: q.Limit}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		total, err := r.count(gctx, r.recipientQuery(recipientID, q.UnreadOnly))
		if err != nil {
			return fmt.Errorf("count notifications: %w", err)
		}
		page.Total = total
		return nil
	})
	g.Go(func() error {
		w := &pageWindow{skip: (q.Page - 1) * q.Limit, limit: q.Limit}
		p := dynamodb.NewQueryPaginator(r.client, r.recipientQuery(recipientID, q.UnreadOnly))
		for p.HasMorePages() && !w.full() {
			out, err := p.NextPage(gctx)
			if err != nil {
				return fmt.Errorf("query notifications: %w", err)
			}
			var batch []notificationItem
			if err := attributevalue.UnmarshalListOfMaps(out.Items, &batch); err != nil {
				return err
			}
			w.add(batch)
		}
		for _, it := range w.items {
			page.Items = append(page.Items, it.Notification)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return page, nil
}

func (r *NotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return r.count(ctx, r.recipientQuery(recipientID, true))
}

// CountDispatchedSince counts the recipient's notifications of type t created
// at or after since that went past the cap check (sent or failed). Urgent
// records bypass the cap and are not counted.
func (r *NotificationRepo) CountDispatchedSince(ctx context.Context, recipientID string, t domain.NotificationType, since time.Time) (int, error) {
	return r.count(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexUserCreated),
		KeyConditionExpression: aws.String("#uid = :uid AND #ck >= :since"),
		FilterExpression:       aws.String("#type = :type AND #status IN (:sent, :failed) AND #prio <> :urgent"),
		ExpressionAttributeNames: map[string]string{
			"#uid":    fieldUserID,
			"#ck":     fieldCreatedKey,
			"#type":   fieldType,
			"#status": fieldStatus,
			"#prio":   fieldPriority,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":    strVal(recipientID),
			":since":  strVal(createdKey(since)),
			":type":   strVal(string(t)),
			":sent":   strVal(string(domain.StatusSent)),
			":failed": strVal(string(domain.StatusFailed)),
			":urgent": strVal(string(domain.PriorityUrgent)),
		},
	})
}

// MarkRead flips is_read on a record the recipient owns and returns it. A
// record owned by someone else is reported as not found. Marking an already
// read record returns it unchanged.
func (r *NotificationRepo) MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*domain.Notification, error) {
	n, err := r.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != recipientID {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	if n.IsRead {
		return n, nil
	}
	return r.setRead(ctx, recipientID, notificationID, at)
}

func (r *NotificationRepo) setRead(ctx context.Context, recipientID, notificationID string, at time.Time) (*domain.Notification, error) {
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldIsRead: true,
		fieldReadAt: at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldNotificationID, notificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String(ue.withOwner(recipientID)),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var item notificationItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, err
	}
	return &item.Notification, nil
}

// MarkAllRead marks every unread record of the recipient read and returns how
// many were updated.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	in := r.recipientQuery(recipientID, true)
	in.ProjectionExpression = aws.String("#nid")
	in.ExpressionAttributeNames["#nid"] = fieldNotificationID

	var ids []string
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("query unread: %w", err)
		}
		for _, it := range out.Items {
			if v, ok := it[fieldNotificationID].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
	}

	updated := 0
	for _, nid := range ids {
		if _, err := r.setRead(ctx, recipientID, nid, at); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Delete removes a record the recipient owns.
func (r *NotificationRepo) Delete(ctx context.Context, recipientID, notificationID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey(fieldNotificationID, notificationID),
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
		return fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	return err
}

// MarkDispatched writes the fan-out result back onto the record.
func (r *NotificationRepo) MarkDispatched(ctx context.Context, notificationID string, res domain.DispatchResult) error {
	updates := map[string]interface{}{
		fieldStatus:   res.Status,
		fieldPushSent: res.PushSent,
	}
	if !res.SentAt.IsZero() {
		updates[fieldSentAt] = res.SentAt.UTC()
	}
	if res.PushData != nil {
		updates[fieldPushData] = res.PushData
	}
	if len(res.Errors) > 0 {
		updates[fieldDeliveryErrors] = res.Errors
	}
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldNotificationID, notificationID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(" + fieldNotificationID + ")"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	return err
}
