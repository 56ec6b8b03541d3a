package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDynamoDBClient struct {
	PutItemFunc    func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItemFunc func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

func (m *mockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return m.PutItemFunc(ctx, params, optFns...)
}

func (m *mockDynamoDBClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return m.DeleteItemFunc(ctx, params, optFns...)
}

func TestDynamoDBLedger_Claim(t *testing.T) {
	var got *dynamodb.PutItemInput
	client := &mockDynamoDBClient{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			got = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	ledger := NewDynamoDBLedger(client, "guardrails-ledger", time.Hour)
	ledger.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, ledger.Claim(context.Background(), "evt-1", "lambda"))
	require.NotNil(t, got)

	assert.Equal(t, "guardrails-ledger", aws.ToString(got.TableName))
	assert.Equal(t, "attribute_not_exists(#id)", aws.ToString(got.ConditionExpression))
	assert.Equal(t, AttrEventID, got.ExpressionAttributeNames["#id"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "evt-1"}, got.Item[AttrEventID])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "lambda"}, got.Item[AttrOwner])
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "1700003600"}, got.Item[AttrExpiresAt])
}

func TestDynamoDBLedger_ClaimWithoutTTL(t *testing.T) {
	var got *dynamodb.PutItemInput
	client := &mockDynamoDBClient{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			got = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	ledger := NewDynamoDBLedger(client, "t", 0)
	require.NoError(t, ledger.Claim(context.Background(), "evt-1", ""))

	assert.NotContains(t, got.Item, AttrExpiresAt)
	assert.NotContains(t, got.Item, AttrOwner)
}

func TestDynamoDBLedger_ClaimDuplicate(t *testing.T) {
	client := &mockDynamoDBClient{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, &ddbtypes.ConditionalCheckFailedException{Message: aws.String("exists")}
		},
	}

	err := NewDynamoDBLedger(client, "t", 0).Claim(context.Background(), "evt-1", "")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDynamoDBLedger_ClaimError(t *testing.T) {
	client := &mockDynamoDBClient{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	err := NewDynamoDBLedger(client, "t", 0).Claim(context.Background(), "evt-1", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)
	assert.Contains(t, err.Error(), "throttled")
}

func TestDynamoDBLedger_Release(t *testing.T) {
	var key string
	client := &mockDynamoDBClient{
		DeleteItemFunc: func(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
			key = params.Key[AttrEventID].(*ddbtypes.AttributeValueMemberS).Value
			return &dynamodb.DeleteItemOutput{}, nil
		},
	}

	require.NoError(t, NewDynamoDBLedger(client, "t", 0).Release(context.Background(), "evt-9"))
	assert.Equal(t, "evt-9", key)
}
