package instruments

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"quotefeed/internal/models"
)

// Listing is one exchange listing of a company.
type Listing struct {
	Symbol   string `bson:"symbol" json:"symbol"`
	Exchange string `bson:"exchange" json:"exchange"`
	Name     string `bson:"name" json:"name"`
}

// Company is an instrument source document.
type Company struct {
	CompanyID string    `bson:"companyId" json:"companyId"`
	Name      string    `bson:"name,omitempty" json:"name,omitempty"`
	Listings  []Listing `bson:"crossListings" json:"crossListings"`
}

// Source yields company documents to build a Registry from.
type Source interface {
	Name() string
	Companies(ctx context.Context) ([]Company, error)
}

// StaticSource builds companies from a configured symbol list. Entries are
// "SYMBOL" or "SYMBOL:EXCHANGE"; the symbol doubles as the company id.
type StaticSource struct {
	Symbols []string
	Logger  zerolog.Logger
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Companies(ctx context.Context) ([]Company, error) {
	var companies []Company
	index := make(map[string]int)

	for _, entry := range s.Symbols {
		symbol, exchange := models.SplitSymbol(entry)
		if symbol == "" {
			continue
		}

		name := symbol
		if known, ok := Popular[symbol]; ok {
			name = known.Name
			if exchange == "" {
				exchange = known.Exchange
			}
		} else if exchange == "" {
			s.Logger.Warn().Str("symbol", symbol).Msg("Symbol not in popular instruments, adding as NSE stock")
		}
		if exchange == "" {
			exchange = models.NSE
		}

		i, ok := index[symbol]
		if !ok {
			i = len(companies)
			index[symbol] = i
			companies = append(companies, Company{CompanyID: symbol, Name: name})
		}
		companies[i].Listings = append(companies[i].Listings, Listing{
			Symbol:   symbol,
			Exchange: string(exchange),
			Name:     name,
		})
	}
	return companies, nil
}

// csvRow is one line of an instrument CSV file.
type csvRow struct {
	CompanyID string `csv:"company_id"`
	Symbol    string `csv:"symbol"`
	Exchange  string `csv:"exchange"`
	Name      string `csv:"name"`
}

// CSVSource reads listings from a CSV file with the header
// company_id,symbol,exchange,name.
type CSVSource struct {
	Path string
}

func (s *CSVSource) Name() string { return "csv:" + s.Path }

func (s *CSVSource) Companies(ctx context.Context) ([]Company, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening instrument file: %w", err)
	}
	defer f.Close()

	var rows []*csvRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing instrument file: %w", err)
	}

	var companies []Company
	index := make(map[string]int)
	for _, row := range rows {
		id := strings.TrimSpace(row.CompanyID)
		if id == "" {
			id = strings.ToUpper(strings.TrimSpace(row.Symbol))
		}
		i, ok := index[id]
		if !ok {
			i = len(companies)
			index[id] = i
			companies = append(companies, Company{CompanyID: id, Name: row.Name})
		}
		if strings.TrimSpace(row.Symbol) == "" {
			continue
		}
		companies[i].Listings = append(companies[i].Listings, Listing{
			Symbol:   row.Symbol,
			Exchange: row.Exchange,
			Name:     row.Name,
		})
	}
	return companies, nil
}

// MongoSource reads company documents from a MongoDB collection.
type MongoSource struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// OpenMongoSource connects to uri and verifies the connection.
func OpenMongoSource(ctx context.Context, uri, database, collection string) (*MongoSource, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetMaxPoolSize(50))
	if err != nil {
		return nil, fmt.Errorf("connecting to instrument database: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging instrument database: %w", err)
	}

	return &MongoSource{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoSource) Name() string {
	return "mongo:" + s.collection.Database().Name() + "." + s.collection.Name()
}

func (s *MongoSource) Companies(ctx context.Context) ([]Company, error) {
	opts := options.Find().SetProjection(bson.M{"companyId": 1, "name": 1, "crossListings": 1})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying companies: %w", err)
	}

	var companies []Company
	if err := cursor.All(ctx, &companies); err != nil {
		return nil, fmt.Errorf("decoding companies: %w", err)
	}
	return companies, nil
}

// Close disconnects from MongoDB.
func (s *MongoSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
