package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const channelsCollection = "channels"

// MongoStore implements Store on MongoDB. Each channel is one document with
// its videos, comments and locations embedded.
type MongoStore struct {
	client   *mongo.Client
	channels *mongo.Collection
}

// NewMongoStore connects to uri and ensures the channel_id index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}

	s := &MongoStore{
		client:   client,
		channels: client.Database(database).Collection(channelsCollection),
	}
	s.ensureIndexes(ctx)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "videos.video_id", Value: 1}},
		},
	}
	for _, index := range indexes {
		if _, err := s.channels.Indexes().CreateOne(ctx, index); err != nil {
			log.Warn().Err(err).Msg("mongo: failed to create index")
		}
	}
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var ch Channel
	err := s.channels.FindOne(ctx, bson.M{"channel_id": channelID}).Decode(&ch)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: err}
	}
	return &ch, nil
}

// UpsertChannel merges the incoming videos into the stored document by
// video ID so videos absent from this write are kept.
func (s *MongoStore) UpsertChannel(ctx context.Context, channel *Channel) error {
	if err := validateChannel(channel); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", Err: err}
	}

	existing, err := s.GetChannel(ctx, channel.ChannelID)
	if err != nil && !IsNotFound(err) {
		return err
	}

	now := time.Now().UTC()
	doc := *channel
	doc.UpdatedAt = now
	doc.CreatedAt = channel.CreatedAt
	if existing != nil {
		if !existing.CreatedAt.IsZero() {
			doc.CreatedAt = existing.CreatedAt
		}
		if doc.UploadsPlaylistID == "" {
			doc.UploadsPlaylistID = existing.UploadsPlaylistID
		}
		doc.Videos = mergeVideosByID(existing.Videos, channel.Videos)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for i := range doc.Videos {
		doc.Videos[i].ChannelID = channel.ChannelID
	}

	_, err = s.channels.ReplaceOne(ctx,
		bson.M{"channel_id": channel.ChannelID},
		doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}
	channel.CreatedAt = doc.CreatedAt
	channel.UpdatedAt = doc.UpdatedAt
	return nil
}

// mergeVideosByID replaces stored videos with incoming ones of the same ID
// and appends the rest, keeping stored order first.
func mergeVideosByID(stored, incoming []Video) []Video {
	idx := make(map[string]int, len(incoming))
	for i, v := range incoming {
		idx[v.VideoID] = i
	}
	out := make([]Video, 0, len(stored)+len(incoming))
	used := make(map[string]bool, len(incoming))
	for _, v := range stored {
		if i, ok := idx[v.VideoID]; ok {
			out = append(out, incoming[i])
			used[v.VideoID] = true
			continue
		}
		out = append(out, v)
	}
	for _, v := range incoming {
		if !used[v.VideoID] {
			out = append(out, v)
			used[v.VideoID] = true
		}
	}
	return out
}

func (s *MongoStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "channel_id", Value: 1}}).
		SetProjection(bson.M{"videos": 0})
	cursor, err := s.channels.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
	}
	defer cursor.Close(ctx)

	var channels []*Channel
	if err := cursor.All(ctx, &channels); err != nil {
		return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
	}
	return channels, nil
}

func (s *MongoStore) DeleteChannel(ctx context.Context, channelID string) error {
	res, err := s.channels.DeleteOne(ctx, bson.M{"channel_id": channelID})
	if err != nil {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: err}
	}
	if res.DeletedCount == 0 {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	return nil
}
