package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore implements Driver using a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// OpenMongo connects to uri and verifies the connection.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetMaxPoolSize(50))
	if err != nil {
		return nil, fmt.Errorf("connecting to quote database: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging quote database: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoStore) Name() string { return "mongo" }

// BulkUpsert sends one unordered bulk write for the batch.
func (s *MongoStore) BulkUpsert(ctx context.Context, batch []Upsert) (Result, error) {
	if len(batch) == 0 {
		return Result{}, nil
	}

	res, err := s.collection.BulkWrite(ctx, writeModels(batch), options.BulkWrite().SetOrdered(false))
	if err != nil {
		return Result{}, fmt.Errorf("bulk write: %w", err)
	}
	return Result{Inserted: res.UpsertedCount, Modified: res.ModifiedCount}, nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func writeModels(batch []Upsert) []mongo.WriteModel {
	out := make([]mongo.WriteModel, 0, len(batch))
	for _, u := range batch {
		out = append(out, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.Doc.ID}).
			SetUpdate(updateDocument(u)).
			SetUpsert(true))
	}
	return out
}

// updateDocument builds the update for one upsert. Identity fields are only
// written on insert so repeated upserts of the same snapshot are no-ops.
func updateDocument(u Upsert) bson.M {
	doc := u.Doc
	set := bson.M{}
	history := bson.M{}

	if doc.NSE != nil {
		set["nseData"] = doc.NSE
		history["nseHistory"] = doc.NSE
	}
	if doc.BSE != nil {
		set["bseData"] = doc.BSE
		history["bseHistory"] = doc.BSE
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"companyId": doc.CompanyID,
			"stockName": doc.StockName,
			"createdAt": doc.CreatedAt,
		},
		"$set": set,
	}
	if u.Policy == MergeAppend {
		update["$addToSet"] = history
	}
	return update
}
