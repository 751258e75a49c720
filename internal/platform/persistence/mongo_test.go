package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func newMockMongoDB(mt *mtest.T) *MongoDB {
	return &MongoDB{
		logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
		client:   mt.Client,
		database: mt.DB,
		timeout:  time.Second,
	}
}

func TestMongoDB_Ping(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("primary answers", func(mt *mtest.T) {
		mdb := newMockMongoDB(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, mdb.Ping(context.Background()))
	})

	mt.Run("command error is wrapped", func(mt *mtest.T) {
		mdb := newMockMongoDB(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "command ping requires authentication",
		}))

		err := mdb.Ping(context.Background())
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "failed to ping MongoDB")
	})
}

func TestMongoDB_Collections(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("audit collections share the database", func(mt *mtest.T) {
		mdb := newMockMongoDB(mt)

		assert.Same(mt, mt.DB, mdb.Database())
		runs := mdb.Collection("reconciliation_runs")
		assert.Equal(mt, "reconciliation_runs", runs.Name())
		assert.Equal(mt, mt.DB.Name(), runs.Database().Name())
	})
}
