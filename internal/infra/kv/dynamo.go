package kv

import (
	"context"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type dynamoItem struct {
	PK         string            `dynamodbav:"PK"`
	SK         string            `dynamodbav:"SK"`
	ObjectType string            `dynamodbav:"ObjectType"`
	Status     string            `dynamodbav:"Status,omitempty"`
	Data       map[string]string `dynamodbav:"Data"`
}

// DynamoStore maps items onto a DynamoDB table with PK/SK keys and two
// global secondary indexes named after Index values.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

var _ Store = (*DynamoStore)(nil)

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func decodeDynamoItem(av map[string]types.AttributeValue) (Item, error) {
	var di dynamoItem
	if err := attributevalue.UnmarshalMap(av, &di); err != nil {
		return Item{}, errors.Wrap(err, "unmarshal dynamo item")
	}
	return Item{
		PartitionKey: di.PK,
		SortKey:      di.SK,
		ObjectType:   di.ObjectType,
		Status:       di.Status,
		Attributes:   di.Data,
	}, nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) Get(ctx context.Context, pk, sk string) (Item, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyOf(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Item{}, errors.Wrap(err, "dynamo get item")
	}
	if resp.Item == nil {
		return Item{}, ErrNotFound
	}
	return decodeDynamoItem(resp.Item)
}

func (s *DynamoStore) Put(ctx context.Context, item Item, opts PutOptions) error {
	data := item.Attributes
	if data == nil {
		data = map[string]string{}
	}
	av, err := attributevalue.MarshalMap(dynamoItem{
		PK:         item.PartitionKey,
		SK:         item.SortKey,
		ObjectType: item.ObjectType,
		Status:     item.Status,
		Data:       data,
	})
	if err != nil {
		return errors.Wrap(err, "marshal dynamo item")
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}
	if opts.IfAbsent {
		input.ConditionExpression = aws.String("attribute_not_exists(SK)")
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		if isConditionalCheckFailed(err) {
			return ErrConditionFailed
		}
		return errors.Wrap(err, "dynamo put item")
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, pk, sk string, m Mutation, cond Condition) (Item, error) {
	if m.empty() {
		return Item{}, errEmptyMutation
	}

	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var sets []string

	if m.Status != "" {
		names["#status"] = "Status"
		values[":status"] = &types.AttributeValueMemberS{Value: m.Status}
		sets = append(sets, "#status = :status")
	}
	if len(m.Attributes) > 0 {
		names["#data"] = "Data"
		i := 0
		for k, v := range m.Attributes {
			n := "#a" + strconv.Itoa(i)
			val := ":a" + strconv.Itoa(i)
			names[n] = k
			values[val] = &types.AttributeValueMemberS{Value: v}
			sets = append(sets, "#data."+n+" = "+val)
			i++
		}
	}

	condition := "attribute_exists(SK)"
	if cond.StatusEquals != "" {
		names["#status"] = "Status"
		values[":expected"] = &types.AttributeValueMemberS{Value: cond.StatusEquals}
		condition += " AND #status = :expected"
	}

	resp, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyOf(pk, sk),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			// distinguish a missing item from a failed status guard
			if _, getErr := s.Get(ctx, pk, sk); errors.Is(getErr, ErrNotFound) {
				return Item{}, ErrNotFound
			}
			return Item{}, ErrConditionFailed
		}
		return Item{}, errors.Wrap(err, "dynamo update item")
	}
	return decodeDynamoItem(resp.Attributes)
}

func (s *DynamoStore) Delete(ctx context.Context, pk, sk string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyOf(pk, sk),
	})
	if err != nil {
		return errors.Wrap(err, "dynamo delete item")
	}
	return nil
}

func (s *DynamoStore) query(ctx context.Context, input *dynamodb.QueryInput, limit int) ([]Item, error) {
	items := []Item{}
	for {
		if limit > 0 {
			input.Limit = aws.Int32(int32(limit - len(items)))
		}
		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "dynamo query")
		}
		for _, av := range resp.Items {
			item, err := decodeDynamoItem(av)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if len(resp.LastEvaluatedKey) == 0 || (limit > 0 && len(items) >= limit) {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}
	return items, nil
}

func (s *DynamoStore) QueryPrefix(ctx context.Context, pk, prefix string, limit int) ([]Item, error) {
	return s.query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ConsistentRead: aws.Bool(true),
	}, limit)
}

func (s *DynamoStore) QueryIndex(ctx context.Context, q IndexQuery, limit int) ([]Item, error) {
	if err := validateIndexQuery(q); err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName: aws.String(s.table),
		IndexName: aws.String(string(q.Index)),
	}
	switch q.Index {
	case IndexByWorkspaceType:
		input.KeyConditionExpression = aws.String("PK = :pk AND ObjectType = :type")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: q.PartitionKey},
			":type": &types.AttributeValueMemberS{Value: q.ObjectType},
		}
	case IndexByTypeStatus:
		input.KeyConditionExpression = aws.String("ObjectType = :type AND #status = :status")
		input.ExpressionAttributeNames = map[string]string{"#status": "Status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":type":   &types.AttributeValueMemberS{Value: q.ObjectType},
			":status": &types.AttributeValueMemberS{Value: q.Status},
		}
	}
	if q.After != nil {
		start := keyOf(q.After.PartitionKey, q.After.SortKey)
		start["ObjectType"] = &types.AttributeValueMemberS{Value: q.ObjectType}
		if q.Index == IndexByTypeStatus {
			start["Status"] = &types.AttributeValueMemberS{Value: q.Status}
		}
		input.ExclusiveStartKey = start
	}
	return s.query(ctx, input, limit)
}

func (s *DynamoStore) Close() error {
	return nil
}
