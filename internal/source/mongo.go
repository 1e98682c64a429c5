package source

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/oicur0t/logcollect/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	Database           string `mapstructure:"database" yaml:"database"`
	CollectionPrefix   string `mapstructure:"collection_prefix" yaml:"collection_prefix"`
	CertificateKeyFile string `mapstructure:"certificate_key_file" yaml:"certificate_key_file"`
	MaxPoolSize        int    `mapstructure:"max_pool_size" yaml:"max_pool_size"`
}

// MongoClient reads logs stored one collection per log. Documents stored
// in the older line-oriented layout (service_name, line, line_number) are
// understood too.
type MongoClient struct {
	client           *mongo.Client
	database         *mongo.Database
	collectionPrefix string
	logger           *zap.Logger
}

// mongoDocument is the subset of a log document the collector reads
type mongoDocument struct {
	Timestamp   time.Time     `bson:"timestamp"`
	EventID     int64         `bson:"event_id"`
	LineNumber  int64         `bson:"line_number"`
	Provider    string        `bson:"provider"`
	ServiceName string        `bson:"service_name"`
	Level       bson.RawValue `bson:"level"`
	Message     string        `bson:"message"`
	Line        string        `bson:"line"`
}

// OpenMongo connects to a mongodb:// host
func OpenMongo(ctx context.Context, uri string, cfg MongoConfig, logger *zap.Logger) (*MongoClient, error) {
	clientOpts := options.Client().ApplyURI(withCertificateKeyFile(uri, cfg.CertificateKeyFile))
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}

	// X.509 authentication when a client certificate is configured
	if cfg.CertificateKeyFile != "" {
		clientOpts.SetAuth(options.Credential{
			AuthMechanism: "MONGODB-X509",
		})
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Debug("Connected to MongoDB",
		zap.String("host", DisplayHost(uri)),
		zap.String("database", cfg.Database))

	return &MongoClient{
		client:           client,
		database:         client.Database(cfg.Database),
		collectionPrefix: cfg.CollectionPrefix,
		logger:           logger,
	}, nil
}

func withCertificateKeyFile(uri, certKeyFile string) string {
	if certKeyFile == "" {
		return uri
	}
	if strings.Contains(uri, "?") {
		return uri + "&tlsCertificateKeyFile=" + certKeyFile
	}
	return uri + "?tlsCertificateKeyFile=" + certKeyFile
}

// LogNames lists the collections carrying the configured prefix
func (c *MongoClient) LogNames(ctx context.Context) ([]string, error) {
	filter := bson.M{"name": bson.M{"$regex": "^" + regexp.QuoteMeta(c.collectionPrefix)}}
	collections, err := c.database.ListCollectionNames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	names := make([]string, 0, len(collections))
	for _, coll := range collections {
		names = append(names, strings.TrimPrefix(coll, c.collectionPrefix))
	}
	sort.Strings(names)
	return names, nil
}

// Query finds the documents of one log inside the window
func (c *MongoClient) Query(ctx context.Context, logName string, window models.Window, maxLevel models.Level) ([]models.EventRecord, error) {
	collName := c.collectionPrefix + logName

	existing, err := c.database.ListCollectionNames(ctx, bson.M{"name": collName})
	if err != nil {
		return nil, fmt.Errorf("failed to look up collection %s: %w", collName, err)
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLog, logName)
	}

	filter := bson.M{"timestamp": bson.M{"$gt": window.Start, "$lte": window.End}}
	if maxLevel != models.Unbounded {
		filter["level"] = bson.M{"$lte": int(maxLevel)}
	}

	cursor, err := c.database.Collection(collName).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collName, err)
	}
	defer cursor.Close(ctx)

	var records []models.EventRecord
	for cursor.Next(ctx) {
		var doc mongoDocument
		if err := cursor.Decode(&doc); err != nil {
			records = append(records, undecodableDocument(cursor.Current, logName, window.End, err))
			continue
		}
		records = append(records, doc.record(logName, window.End))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collName, err)
	}
	return records, nil
}

// Close disconnects from MongoDB
func (c *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

func (d mongoDocument) record(logName string, fallback time.Time) models.EventRecord {
	rec := models.EventRecord{
		CreatedAt: timeOr(d.Timestamp, fallback),
		LogName:   logName,
		ID:        d.EventID,
		Provider:  d.Provider,
		Level:     rawLevel(d.Level),
		Body:      d.Message,
	}
	if rec.ID == 0 {
		rec.ID = d.LineNumber
	}
	if rec.Provider == "" {
		rec.Provider = d.ServiceName
	}
	if rec.Body == "" {
		rec.Body = d.Line
	}
	return rec
}

// undecodableDocument keeps a document that failed to decode visible in
// the output, salvaging its timestamp when possible.
func undecodableDocument(raw bson.Raw, logName string, fallback time.Time, err error) models.EventRecord {
	rec := models.EventRecord{
		CreatedAt: fallback,
		LogName:   logName,
		Level:     models.LevelUnknown,
		Body:      models.RenderFailure(err),
	}
	if v, lookupErr := raw.LookupErr("timestamp"); lookupErr == nil && v.Type == bsontype.DateTime {
		rec.CreatedAt = v.Time()
	}
	return rec
}

func rawLevel(v bson.RawValue) models.Level {
	switch v.Type {
	case bsontype.Int32:
		return models.LevelFromInt(int64(v.Int32()))
	case bsontype.Int64:
		return models.LevelFromInt(v.Int64())
	case bsontype.Double:
		return models.LevelFromInt(int64(v.Double()))
	case bsontype.String:
		return models.ParseLevel(v.StringValue())
	default:
		return models.LevelUnknown
	}
}
