package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-sneaker-orderflow/internal/aws"
)

// NumberGenerator issues human-facing order numbers (SNK-20240301-000042)
// from a per-day atomic counter item.
type NumberGenerator struct {
	client    aws.DynamoDBAPI
	tableName string
	prefix    string
}

func NewNumberGenerator(client aws.DynamoDBAPI, tableName, prefix string) *NumberGenerator {
	if prefix == "" {
		prefix = "SNK"
	}
	return &NumberGenerator{client: client, tableName: tableName, prefix: prefix}
}

func (g *NumberGenerator) Next(ctx context.Context, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")
	out, err := g.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &g.tableName,
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: "order_number#" + day},
		},
		UpdateExpression:         awsString("ADD #c :one SET updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#c": "current"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":ua":  &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return "", fmt.Errorf("increment order counter: %w", err)
	}

	counter, ok := out.Attributes["current"].(*types.AttributeValueMemberN)
	if !ok {
		return "", fmt.Errorf("order counter returned no value")
	}
	seq, err := strconv.ParseInt(counter.Value, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse order counter: %w", err)
	}
	return fmt.Sprintf("%s-%s-%06d", g.prefix, day, seq), nil
}
