package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/google/uuid"
)

const (
	dynamoCollectionKey = "collection"
	dynamoIDKey         = "id"
	dynamoFieldsKey     = "fields"
)

// dynamoEncoder keeps empty lists, maps and strings as themselves rather
// than NULL, so an item reads back the way it was written.
var dynamoEncoder = dynamodbattribute.NewEncoder(func(e *dynamodbattribute.Encoder) {
	e.EnableEmptyCollections = true
	e.NullEmptyString = false
})

// DynamoDBDocumentStore implements DocumentStore on a single DynamoDB table
// keyed by collection (hash) and id (range).
type DynamoDBDocumentStore struct {
	client    *dynamodb.DynamoDB
	tableName string
}

// DynamoDBItem is the stored form of a Document
type DynamoDBItem struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
}

// NewDynamoDBDocumentStore creates a new DynamoDB document store. Endpoint
// targets DynamoDB Local when set.
func NewDynamoDBDocumentStore(region, tableName, endpoint string) (*DynamoDBDocumentStore, error) {
	if tableName == "" {
		return nil, errors.New("dynamodb table name is required")
	}

	cfg := &aws.Config{Region: aws.String(region)}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return &DynamoDBDocumentStore{
		client:    dynamodb.New(sess),
		tableName: tableName,
	}, nil
}

func (s *DynamoDBDocumentStore) key(collection, id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		dynamoCollectionKey: {S: aws.String(collection)},
		dynamoIDKey:         {S: aws.String(id)},
	}
}

// List queries every item of the collection, following pagination
func (s *DynamoDBDocumentStore) List(ctx context.Context, collection string) ([]*Document, error) {
	keyCondition := expression.Key(dynamoCollectionKey).Equal(expression.Value(collection))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCondition).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	docs := []*Document{}
	var decodeErr error
	err = s.client.QueryPagesWithContext(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, func(page *dynamodb.QueryOutput, lastPage bool) bool {
		for _, item := range page.Items {
			doc, err := documentFromItem(item)
			if err != nil {
				decodeErr = err
				return false
			}
			docs = append(docs, doc)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return docs, nil
}

// Get retrieves a document by ID
func (s *DynamoDBDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(collection, id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return documentFromItem(result.Item)
}

// Create puts a new item under a generated ID
func (s *DynamoDBDocumentStore) Create(ctx context.Context, collection string, fields Fields) (*Document, error) {
	id := uuid.NewString()
	av, err := marshalItem(DynamoDBItem{
		Collection: collection,
		ID:         id,
		Fields:     fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s item: %w", collection, err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put %s item: %w", collection, err)
	}

	// Read back through the marshaller so values look like a later Get.
	return documentFromItem(av)
}

// Update sets the given fields and returns the whole updated document
func (s *DynamoDBDocumentStore) Update(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	if len(fields) == 0 {
		return s.Get(ctx, collection, id)
	}

	expr, err := updateExpression(fields)
	if err != nil {
		return nil, err
	}

	result, err := s.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.tableName),
		Key:                       s.key(collection, id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return documentFromItem(result.Attributes)
}

// Delete removes an existing item
func (s *DynamoDBDocumentStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.key(collection, id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Close is a no-op; the client holds no connections to release
func (s *DynamoDBDocumentStore) Close(ctx context.Context) error {
	return nil
}

// updateExpression sets fields.<name> for every field, on an existing item.
func updateExpression(fields Fields) (expression.Expression, error) {
	var update expression.UpdateBuilder
	for k, v := range fields {
		// The expression builder splits names on "." and reads "[n]" as
		// a list index.
		if k == "" || strings.ContainsAny(k, ".[]") {
			return expression.Expression{}, fmt.Errorf("%w: field name %q", ErrInvalidContent, k)
		}
		av, err := dynamoEncoder.Encode(v)
		if err != nil {
			return expression.Expression{}, fmt.Errorf("failed to marshal field %s: %w", k, err)
		}
		update = update.Set(expression.Name(dynamoFieldsKey+"."+k), expression.Value(av))
	}
	cond := expression.AttributeExists(expression.Name(dynamoIDKey))

	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return expression.Expression{}, fmt.Errorf("failed to build expression: %w", err)
	}
	return expr, nil
}

func marshalItem(item DynamoDBItem) (map[string]*dynamodb.AttributeValue, error) {
	av, err := dynamoEncoder.Encode(item)
	if err != nil {
		return nil, err
	}
	return av.M, nil
}

func documentFromItem(item map[string]*dynamodb.AttributeValue) (*Document, error) {
	var dbItem DynamoDBItem
	if err := dynamodbattribute.UnmarshalMap(item, &dbItem); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	doc := &Document{ID: dbItem.ID, Fields: make(Fields, len(dbItem.Fields))}
	for k, v := range dbItem.Fields {
		doc.Fields[k] = plainValue(v)
	}
	return doc, nil
}

func isConditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
