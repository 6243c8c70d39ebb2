package db

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const MovementsCollection = "movements"

// for handling MongoDB operations
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// movementDocument is the stored form of a movement.
type movementDocument struct {
	ID          string               `bson:"_id"`
	Type        models.MovementType  `bson:"type"`
	Amount      primitive.Decimal128 `bson:"amount"`
	Description string               `bson:"description,omitempty"`
	Origin      string               `bson:"origin,omitempty"`
	Destination string               `bson:"destination,omitempty"`
	Creator     string               `bson:"creator"`
	Date        time.Time            `bson:"date"`
}

// creates a new MongoDB instance
func NewMongoDB(uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongodb: %w", err)
	}

	// pinging the database
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping Mongodb: %w", err)
	}

	m := &MongoDB{
		client:     client,
		collection: client.Database(dbName).Collection(MovementsCollection),
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMongoDBFromCollection uses an existing movements collection.
func NewMongoDBFromCollection(collection *mongo.Collection) *MongoDB {
	return &MongoDB{
		client:     collection.Database().Client(),
		collection: collection,
	}
}

func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "creator", Value: 1}, {Key: "type", Value: 1}, {Key: "date", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "origin", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "destination", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "date", Value: -1}},
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// closes the mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func toDocument(mv *models.Movement) (movementDocument, error) {
	amount, err := primitive.ParseDecimal128(mv.Amount.String())
	if err != nil {
		return movementDocument{}, fmt.Errorf("invalid amount %s: %w", mv.Amount, err)
	}
	return movementDocument{
		ID:          mv.ID,
		Type:        mv.Type,
		Amount:      amount,
		Description: mv.Description,
		Origin:      mv.OriginID,
		Destination: mv.DestinationID,
		Creator:     mv.CreatorID,
		Date:        mv.CreatedAt,
	}, nil
}

func (d movementDocument) movement() (*models.Movement, error) {
	amount, err := decimal.NewFromString(d.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("invalid stored amount for movement %s: %w", d.ID, err)
	}
	return &models.Movement{
		ID:            d.ID,
		Type:          d.Type,
		Amount:        amount,
		Description:   d.Description,
		OriginID:      d.Origin,
		DestinationID: d.Destination,
		CreatorID:     d.Creator,
		CreatedAt:     d.Date,
	}, nil
}

// Append stores a movement under its own id, so a retried append that
// already landed is reported as success.
func (m *MongoDB) Append(ctx context.Context, mv *models.Movement) error {
	doc, err := toDocument(mv)
	if err != nil {
		return err
	}

	_, err = m.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}

func movementQuery(f ledger.MovementFilter) bson.D {
	query := bson.D{}
	if f.ID != "" {
		query = append(query, bson.E{Key: "_id", Value: f.ID})
	}
	if f.CreatorID != "" {
		query = append(query, bson.E{Key: "creator", Value: f.CreatorID})
	}
	if f.Type != "" {
		query = append(query, bson.E{Key: "type", Value: f.Type})
	}
	if f.OriginID != "" {
		query = append(query, bson.E{Key: "origin", Value: f.OriginID})
	}
	if f.DestinationID != "" {
		query = append(query, bson.E{Key: "destination", Value: f.DestinationID})
	}

	var either bson.A
	if f.AccountID != "" {
		either = append(either, bson.M{"$or": bson.A{
			bson.M{"origin": f.AccountID},
			bson.M{"destination": f.AccountID},
		}})
	}
	if f.AccountScope != nil {
		either = append(either, bson.M{"$or": bson.A{
			bson.M{"origin": bson.M{"$in": f.AccountScope}},
			bson.M{"destination": bson.M{"$in": f.AccountScope}},
		}})
	}
	if len(either) > 0 {
		query = append(query, bson.E{Key: "$and", Value: either})
	}

	date := bson.D{}
	if !f.From.IsZero() {
		date = append(date, bson.E{Key: "$gte", Value: f.From})
	}
	if !f.To.IsZero() {
		date = append(date, bson.E{Key: "$lt", Value: f.To})
	}
	if len(date) > 0 {
		query = append(query, bson.E{Key: "date", Value: date})
	}
	return query
}

func (m *MongoDB) Find(ctx context.Context, filter ledger.MovementFilter, page ledger.Page) ([]*models.Movement, int64, error) {
	query := movementQuery(filter)

	total, err := m.collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count movements: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset))
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	cursor, err := m.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find movements: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []movementDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode movements: %w", err)
	}

	movements := make([]*models.Movement, 0, len(docs))
	for _, doc := range docs {
		mv, err := doc.movement()
		if err != nil {
			return nil, 0, err
		}
		movements = append(movements, mv)
	}
	return movements, total, nil
}

func (m *MongoDB) SumTransfers(ctx context.Context, creatorID string, from, to time.Time) (decimal.Decimal, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "creator", Value: creatorID},
			{Key: "type", Value: models.Transfer},
			{Key: "date", Value: bson.D{{Key: "$gte", Value: from}, {Key: "$lt", Value: to}}},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}

	cursor, err := m.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transfers: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Total primitive.Decimal128 `bson:"total"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode transfer total: %w", err)
	}
	if len(results) == 0 {
		return decimal.Zero, nil
	}

	total, err := decimal.NewFromString(results[0].Total.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid transfer total: %w", err)
	}
	return total, nil
}

// rankingPipeline counts movements per account over origin and destination,
// then orders and pages the counts.
func rankingPipeline(direction ledger.Direction, page ledger.Page) mongo.Pipeline {
	order := 1
	if direction == ledger.More {
		order = -1
	}

	pipeline := mongo.Pipeline{
		{{Key: "$project", Value: bson.D{
			{Key: "accounts", Value: bson.A{"$origin", "$destination"}},
		}}},
		{{Key: "$unwind", Value: "$accounts"}},
		{{Key: "$match", Value: bson.D{{Key: "accounts", Value: bson.D{{Key: "$type", Value: "string"}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$accounts"},
			{Key: "movements", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "movements", Value: order}, {Key: "_id", Value: 1}}}},
	}
	if page.Offset > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(page.Offset)}})
	}
	if page.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(page.Limit)}})
	}
	return pipeline
}

func (m *MongoDB) CountByAccount(ctx context.Context, direction ledger.Direction, page ledger.Page) ([]ledger.AccountCount, error) {
	cursor, err := m.collection.Aggregate(ctx, rankingPipeline(direction, page))
	if err != nil {
		return nil, fmt.Errorf("failed to count movements per account: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		AccountID string `bson:"_id"`
		Movements int64  `bson:"movements"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode movement counts: %w", err)
	}

	counts := make([]ledger.AccountCount, 0, len(results))
	for _, r := range results {
		counts = append(counts, ledger.AccountCount{AccountID: r.AccountID, Movements: r.Movements})
	}
	return counts, nil
}

var _ ledger.MovementLog = (*MongoDB)(nil)
var _ ledger.AccountStore = (*Postgres)(nil)
var _ ledger.UserDirectory = (*Postgres)(nil)
