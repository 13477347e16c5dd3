package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/merlinn-co/merlinn/pkg/models"
)

const (
	mongoMaxLimit = 50

	mongoFindSchema = `{"type":"object","properties":{
		"database":{"type":"string"},
		"collection":{"type":"string"},
		"filter":{"type":"object","description":"MongoDB query filter in extended JSON"},
		"limit":{"type":"integer","description":"max documents (default 10, max 50)"}},
		"required":["collection"]}`
	mongoCollectionsSchema = `{"type":"object","properties":{"database":{"type":"string"}}}`
)

type mongoFindArgs struct {
	Database   string          `json:"database"`
	Collection string          `json:"collection"`
	Filter     json.RawMessage `json:"filter"`
	Limit      int64           `json:"limit"`
}

// parse validates arguments and converts the filter to BSON.
func (a *mongoFindArgs) parse(defaultDB string) (bson.M, error) {
	if a.Database == "" {
		a.Database = defaultDB
	}
	if a.Database == "" {
		return nil, errors.New("database is required")
	}
	if strings.TrimSpace(a.Collection) == "" {
		return nil, errors.New("collection is required")
	}
	if a.Limit <= 0 {
		a.Limit = 10
	}
	if a.Limit > mongoMaxLimit {
		a.Limit = mongoMaxLimit
	}
	filter := bson.M{}
	if len(a.Filter) > 0 && string(a.Filter) != "null" {
		if err := bson.UnmarshalExtJSON(a.Filter, false, &filter); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
	}
	return filter, nil
}

// MongoDBLoader builds read-only query tools from a MongoDB integration.
// The "connection_string" credential is required; metadata "database" sets
// the default database.
func MongoDBLoader(_ context.Context, in models.Integration, _ models.RunContext) ([]Tool, error) {
	uri := in.Credential("connection_string")
	if uri == "" {
		return nil, errors.New("mongodb integration has no connection_string")
	}
	m := &mongoTools{uri: uri, database: in.MetadataString("database")}
	return []Tool{
		&FuncTool{
			ToolName:        "mongodb_find",
			ToolDescription: "Find documents in a MongoDB collection.",
			Schema:          json.RawMessage(mongoFindSchema),
			Fn:              m.find,
		},
		&FuncTool{
			ToolName:        "mongodb_list_collections",
			ToolDescription: "List collection names in a MongoDB database.",
			Schema:          json.RawMessage(mongoCollectionsSchema),
			Fn:              m.listCollections,
		},
	}, nil
}

type mongoTools struct {
	uri      string
	database string
}

// connect opens a short-lived client per call. Investigations issue few
// queries and the runs are independent.
func (m *mongoTools) connect(ctx context.Context) (*mongo.Client, func(), error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(m.uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	return client, func() { _ = client.Disconnect(context.WithoutCancel(ctx)) }, nil
}

func (m *mongoTools) find(ctx context.Context, raw json.RawMessage) (string, error) {
	var args mongoFindArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	filter, err := args.parse(m.database)
	if err != nil {
		return "", err
	}

	client, done, err := m.connect(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	cursor, err := client.Database(args.Database).Collection(args.Collection).
		Find(ctx, filter, options.Find().SetLimit(args.Limit))
	if err != nil {
		return "", fmt.Errorf("mongodb find: %w", err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return "", fmt.Errorf("mongodb read cursor: %w", err)
	}

	lines := make([]string, 0, len(docs))
	for _, d := range docs {
		b, err := bson.MarshalExtJSON(d, false, false)
		if err != nil {
			return "", fmt.Errorf("encode document: %w", err)
		}
		lines = append(lines, string(b))
	}
	if len(lines) == 0 {
		return "no documents matched", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (m *mongoTools) listCollections(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Database string `json:"database"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if args.Database == "" {
		args.Database = m.database
	}
	if args.Database == "" {
		return "", errors.New("database is required")
	}

	client, done, err := m.connect(ctx)
	if err != nil {
		return "", err
	}
	defer done()

	names, err := client.Database(args.Database).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return "", fmt.Errorf("mongodb list collections: %w", err)
	}
	return toJSON(names)
}
