package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB ledger item attributes
const (
	AttrEventID   = "event_id"
	AttrOwner     = "owner"
	AttrClaimedAt = "claimed_at"
	AttrExpiresAt = "expires_at"
)

// DynamoDBAPI defines the DynamoDB operations used by the ledger
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoDBLedger claims keys with a conditional put, so concurrent Lambda
// invocations for one event race safely. Items expire through the
// table's TTL on expires_at.
type DynamoDBLedger struct {
	client DynamoDBAPI
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewDynamoDBLedger creates a ledger on table; ttl <= 0 disables expiry
func NewDynamoDBLedger(client DynamoDBAPI, table string, ttl time.Duration) *DynamoDBLedger {
	return &DynamoDBLedger{client: client, table: table, ttl: ttl, now: time.Now}
}

// Claim writes the key unless it already exists
func (l *DynamoDBLedger) Claim(ctx context.Context, key, owner string) error {
	now := l.now().UTC()
	item := map[string]ddbtypes.AttributeValue{
		AttrEventID:   &ddbtypes.AttributeValueMemberS{Value: key},
		AttrClaimedAt: &ddbtypes.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if owner != "" {
		item[AttrOwner] = &ddbtypes.AttributeValueMemberS{Value: owner}
	}
	if l.ttl > 0 {
		item[AttrExpiresAt] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.ttl).Unix(), 10)}
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": AttrEventID,
		},
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicate
		}
		return fmt.Errorf("put ledger item: %w", err)
	}
	return nil
}

// Release deletes the key
func (l *DynamoDBLedger) Release(ctx context.Context, key string) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key: map[string]ddbtypes.AttributeValue{
			AttrEventID: &ddbtypes.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("delete ledger item: %w", err)
	}
	return nil
}

// Close is a no-op; the client is shared
func (l *DynamoDBLedger) Close() error {
	return nil
}
