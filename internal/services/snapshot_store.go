package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zacharyr0th/aptos-stables/internal/config"
	"github.com/zacharyr0th/aptos-stables/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoSnapshotStore keeps one document per asset key holding its last good supply
type MongoSnapshotStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	config     *config.SnapshotConfig
}

// NewMongoSnapshotStore connects to MongoDB and verifies the connection
func NewMongoSnapshotStore(ctx context.Context, cfg *config.SnapshotConfig) (*MongoSnapshotStore, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)

	// Connection pool sizing
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMinPoolSize(cfg.MaxPoolSize / 4)
	clientOptions.SetMaxConnIdleTime(30 * time.Minute)
	clientOptions.SetMaxConnecting(cfg.MaxPoolSize/2 + 1)

	// Timeouts
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetSocketTimeout(10 * time.Second)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)
	clientOptions.SetHeartbeatInterval(10 * time.Second)

	clientOptions.SetCompressors([]string{"snappy", "zlib", "zstd"})

	clientOptions.SetReadPreference(readpref.Primary())
	clientOptions.SetRetryWrites(true)
	clientOptions.SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoSnapshotStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		config:     cfg,
	}, nil
}

// EnsureIndexes creates the indexes list and purge rely on
func (m *MongoSnapshotStore) EnsureIndexes(ctx context.Context) ([]string, error) {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fetched_at", Value: 1}}},
		{Keys: bson.D{{Key: "symbol", Value: 1}}},
	}

	names, err := m.collection.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return names, nil
}

// Save upserts every snapshot by asset key in one bulk write
func (m *MongoSnapshotStore) Save(ctx context.Context, snapshots []models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(snapshots))
	for _, snapshot := range snapshots {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": snapshot.Key}).
			SetReplacement(snapshot).
			SetUpsert(true))
	}

	_, err := m.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

// LoadAll returns every stored snapshot ordered by symbol
func (m *MongoSnapshotStore) LoadAll(ctx context.Context) ([]models.Snapshot, error) {
	cursor, err := m.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "symbol", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var snapshots []models.Snapshot
	if err := cursor.All(ctx, &snapshots); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}
	return snapshots, nil
}

// Purge deletes snapshots fetched before cutoff
func (m *MongoSnapshotStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := m.collection.DeleteMany(ctx, bson.M{"fetched_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	return result.DeletedCount, nil
}

// Ping verifies the MongoDB connection
func (m *MongoSnapshotStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoSnapshotStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// CountSnapshots counts stored documents for the given asset keys
func (m *MongoSnapshotStore) CountSnapshots(ctx context.Context, keys []string) (int64, error) {
	count, err := m.collection.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// IndexNames lists the indexes on the snapshot collection
func (m *MongoSnapshotStore) IndexNames(ctx context.Context) ([]string, error) {
	specs, err := m.collection.Indexes().ListSpecifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return names, nil
}

// CollectionName returns the snapshot collection name
func (m *MongoSnapshotStore) CollectionName() string {
	return m.config.Collection
}

// MemorySnapshotStore keeps snapshots in process; used when no MongoDB URI is configured
type MemorySnapshotStore struct {
	snapshots map[string]models.Snapshot
	mutex     sync.RWMutex
}

// NewMemorySnapshotStore creates an empty in-memory store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]models.Snapshot)}
}

// Save replaces stored snapshots by key
func (m *MemorySnapshotStore) Save(ctx context.Context, snapshots []models.Snapshot) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, snapshot := range snapshots {
		m.snapshots[snapshot.Key] = snapshot
	}
	return nil
}

// LoadAll returns stored snapshots ordered by symbol
func (m *MemorySnapshotStore) LoadAll(ctx context.Context) ([]models.Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshots := make([]models.Snapshot, 0, len(m.snapshots))
	for _, snapshot := range m.snapshots {
		snapshots = append(snapshots, snapshot)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Symbol < snapshots[j].Symbol
	})
	return snapshots, nil
}

// Ping always succeeds
func (m *MemorySnapshotStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemorySnapshotStore) Close(ctx context.Context) error {
	return nil
}
