package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/models"
	"quotefeed/internal/resilience"
)

type recordingDriver struct {
	batches [][]Upsert
	err     error
}

func (d *recordingDriver) Name() string { return "recording" }

func (d *recordingDriver) BulkUpsert(ctx context.Context, batch []Upsert) (Result, error) {
	d.batches = append(d.batches, batch)
	if d.err != nil {
		return Result{}, d.err
	}
	return Result{Inserted: int64(len(batch))}, nil
}

func (d *recordingDriver) Close() error { return nil }

func TestSinkFiltersInvalidDocuments(t *testing.T) {
	drv := &recordingDriver{}
	sink := NewSink(drv, SinkConfig{Policy: MergeAppend}, zerolog.Nop())

	valid := testDoc("TCS", testDay, testQuote(models.NSE, 3061.8), nil)
	noPayload := testDoc("INFY", testDay, nil, nil)
	noID := testDoc("HDFCBANK", testDay, testQuote(models.NSE, 1600), nil)
	noID.ID = ""

	res, err := sink.UpsertBatch(context.Background(), []models.DayDocument{valid, noPayload, noID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Inserted)

	require.Len(t, drv.batches, 1)
	require.Len(t, drv.batches[0], 1)
	assert.Equal(t, valid.ID, drv.batches[0][0].Doc.ID)
	assert.Equal(t, MergeAppend, drv.batches[0][0].Policy)
}

func TestSinkSkipsEmptyBatch(t *testing.T) {
	drv := &recordingDriver{}
	sink := NewSink(drv, SinkConfig{}, zerolog.Nop())

	res, err := sink.UpsertBatch(context.Background(), []models.DayDocument{testDoc("TCS", testDay, nil, nil)})
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Empty(t, drv.batches)
}

func TestSinkDriverFailure(t *testing.T) {
	drv := &recordingDriver{err: errors.New("connection refused")}
	sink := NewSink(drv, SinkConfig{
		Breaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour},
	}, zerolog.Nop())

	doc := testDoc("TCS", testDay, testQuote(models.NSE, 3061.8), nil)
	for i := 0; i < 2; i++ {
		_, err := sink.UpsertBatch(context.Background(), []models.DayDocument{doc})
		var perr *apperrors.PersistenceError
		require.True(t, apperrors.As(err, &perr))
		assert.Equal(t, 1, perr.BatchSize)
		assert.Equal(t, "recording", perr.Driver)
	}
	assert.Equal(t, resilience.CircuitOpen, sink.BreakerState())

	// While open, batches are dropped without reaching the driver.
	_, err := sink.UpsertBatch(context.Background(), []models.DayDocument{doc})
	assert.ErrorIs(t, err, apperrors.ErrCircuitOpen)
	assert.Len(t, drv.batches, 2)
}

func TestSinkWithSQLite(t *testing.T) {
	sink := NewSink(newTestStore(t), SinkConfig{WriteTimeout: 5 * time.Second}, zerolog.Nop())
	doc := testDoc("TCS", testDay, testQuote(models.NSE, 3061.8), testQuote(models.BSE, 3062))

	res, err := sink.Upsert(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1}, res)

	res, err = sink.Upsert(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestMongoUpdateDocument(t *testing.T) {
	nse := testQuote(models.NSE, 3061.8)
	doc := testDoc("TCS", testDay, nse, nil)

	t.Run("overwrite", func(t *testing.T) {
		u := updateDocument(Upsert{Doc: doc, Policy: MergeOverwrite})

		insert := u["$setOnInsert"].(bson.M)
		assert.Equal(t, "TCS", insert["companyId"])
		assert.Equal(t, "TCS Ltd", insert["stockName"])
		assert.Equal(t, doc.CreatedAt, insert["createdAt"])

		set := u["$set"].(bson.M)
		assert.Equal(t, nse, set["nseData"])
		assert.NotContains(t, set, "bseData")
		assert.NotContains(t, u, "$addToSet")
	})

	t.Run("append", func(t *testing.T) {
		u := updateDocument(Upsert{Doc: doc, Policy: MergeAppend})
		history := u["$addToSet"].(bson.M)
		assert.Equal(t, nse, history["nseHistory"])
		assert.NotContains(t, history, "bseHistory")
	})

	wm := writeModels([]Upsert{{Doc: doc}, {Doc: doc}})
	assert.Len(t, wm, 2)
}
