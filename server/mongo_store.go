package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// getPasswordFromSecretsManager retrieves the password from AWS Secrets Manager
func getPasswordFromSecretsManager(region, secretArn string) (string, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create AWS session: %w", err)
	}

	result, err := secretsmanager.New(sess).GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretArn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret value: %w", err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret value is nil")
	}

	return *result.SecretString, nil
}

// MongoDocumentStore implements DocumentStore on MongoDB or AWS DocumentDB
type MongoDocumentStore struct {
	client   *mongo.Client
	database *mongo.Database
}

// createTLSConfig loads the CA bundle used by DocumentDB clusters
func createTLSConfig(caFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate from %s: %w", caFile, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}

	return &tls.Config{RootCAs: pool}, nil
}

// NewMongoDocumentStore connects to the database named in config
func NewMongoDocumentStore(ctx context.Context, config *Config) (*MongoDocumentStore, error) {
	mc := config.Documents.Mongo
	if mc.ConnectionString == "" {
		return nil, errors.New("mongo connection string is required")
	}

	clientOptions := options.Client().ApplyURI(mc.ConnectionString)

	if mc.PasswordSecretArn != "" {
		password, err := getPasswordFromSecretsManager(config.AWS.Region, mc.PasswordSecretArn)
		if err != nil {
			return nil, err
		}
		credential := options.Credential{
			AuthMechanism: "SCRAM-SHA-1",
			AuthSource:    "admin",
			Password:      password,
		}
		if clientOptions.Auth != nil {
			credential.Username = clientOptions.Auth.Username
		}
		clientOptions.SetAuth(credential)
	}

	if mc.CAFile != "" {
		tlsConfig, err := createTLSConfig(mc.CAFile)
		if err != nil {
			return nil, err
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	log.WithField("database", mc.DatabaseName).Info("Connected to document database")

	return &MongoDocumentStore{
		client:   client,
		database: client.Database(mc.DatabaseName),
	}, nil
}

// List returns every document of the collection
func (s *MongoDocumentStore) List(ctx context.Context, collection string) ([]*Document, error) {
	cursor, err := s.database.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := []*Document{}
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode %s document: %w", collection, err)
		}
		docs = append(docs, documentFromBSON(raw))
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return docs, nil
}

// Get retrieves a document by ID
func (s *MongoDocumentStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	var raw bson.M
	err = s.database.Collection(collection).FindOne(ctx, bson.M{"_id": oid}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}

	return documentFromBSON(raw), nil
}

// Create inserts a new document with a generated ObjectID
func (s *MongoDocumentStore) Create(ctx context.Context, collection string, fields Fields) (*Document, error) {
	oid := primitive.NewObjectID()
	item := bson.M{"_id": oid}
	for k, v := range fields {
		item[k] = v
	}

	if _, err := s.database.Collection(collection).InsertOne(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", collection, err)
	}

	doc := &Document{ID: oid.Hex(), Fields: make(Fields, len(fields))}
	for k, v := range fields {
		doc.Fields[k] = plainValue(v)
	}
	return doc, nil
}

// Update applies a $set of the given fields and returns the updated document
func (s *MongoDocumentStore) Update(ctx context.Context, collection, id string, fields Fields) (*Document, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	update := bson.M{"$set": bson.M(fields)}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var raw bson.M
	err = s.database.Collection(collection).FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}

	return documentFromBSON(raw), nil
}

// Delete removes a document
func (s *MongoDocumentStore) Delete(ctx context.Context, collection, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	result, err := s.database.Collection(collection).DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	return nil
}

// Close closes the mongo connection
func (s *MongoDocumentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// documentFromBSON splits _id from the remaining fields
func documentFromBSON(raw bson.M) *Document {
	doc := &Document{Fields: make(Fields, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			switch id := v.(type) {
			case primitive.ObjectID:
				doc.ID = id.Hex()
			default:
				doc.ID = fmt.Sprint(id)
			}
			continue
		}
		doc.Fields[k] = plainValue(v)
	}
	return doc
}

// plainValue converts driver types into plain Go values so documents look
// the same whichever backend produced them.
func plainValue(v interface{}) interface{} {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = plainValue(e)
		}
		return out
	case primitive.M:
		return plainMap(t)
	case map[string]interface{}:
		return plainMap(t)
	case primitive.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = plainValue(e.Value)
		}
		return out
	case int32:
		return int64(t)
	default:
		return v
	}
}

func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, e := range m {
		out[k] = plainValue(e)
	}
	return out
}
