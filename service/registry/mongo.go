package registry

import (
	"context"
	"time"

	"PRelay/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures the mongo backend.
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	MaxPoolSize int
	MaxRetry    int
}

func (c *MongoConfig) setDefaults() error {
	if c.URI == "" {
		return errs.New("mongo uri is required")
	}
	if c.Database == "" {
		c.Database = "relay"
	}
	if c.Collection == "" {
		c.Collection = "connections"
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 100
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = 3
	}
	return nil
}

type MongoBackend struct {
	cli  *mongo.Client
	coll *mongo.Collection
}

// NewMongoBackend connects with retry and pings the primary.
func NewMongoBackend(ctx context.Context, c MongoConfig) (*MongoBackend, error) {
	if err := c.setDefaults(); err != nil {
		return nil, err
	}
	opts := options.Client().ApplyURI(c.URI).SetMaxPoolSize(uint64(c.MaxPoolSize))

	var (
		cli *mongo.Client
		err error
	)
	for i := 0; i < c.MaxRetry; i++ {
		cli, err = connectMongo(ctx, opts)
		if err == nil || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Second / 2)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "failed to connect to MongoDB", "URI", c.URI)
	}
	return &MongoBackend{cli: cli, coll: cli.Database(c.Database).Collection(c.Collection)}, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return cli, nil
}

// EnsureIndexes creates the lookup indexes.
func (b *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := b.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "connection_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
	})
	return errs.Wrap(err)
}

func (b *MongoBackend) Open(context.Context) (Session, error) {
	return mongoSession{coll: b.coll}, nil
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.cli.Disconnect(ctx)
}

type mongoSession struct {
	coll *mongo.Collection
}

func (s mongoSession) Close() error { return nil }

func (s mongoSession) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	return err
}

func (s mongoSession) Insert(ctx context.Context, c Connection) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"connection_id": c.ConnectionID},
		c,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (s mongoSession) DeleteByConnection(ctx context.Context, connectionID string) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"connection_id": connectionID})
	return err
}

func (s mongoSession) UserByConnection(ctx context.Context, connectionID string) (string, bool, error) {
	var c Connection
	err := s.coll.FindOne(ctx, bson.M{"connection_id": connectionID}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.UserID, true, nil
}

func (s mongoSession) List(ctx context.Context) ([]Connection, error) {
	cur, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "connected_at", Value: 1}, {Key: "connection_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]Connection, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].ConnectedAt = out[i].ConnectedAt.UTC()
	}
	return out, nil
}
