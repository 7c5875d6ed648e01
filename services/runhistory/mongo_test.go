package runhistory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"ashare_backend/services/syncer"
)

func TestToDocument(t *testing.T) {
	started := time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)
	msg := "open upstream session: upstream authentication failed"

	doc := toDocument(syncer.Snapshot{
		Mode:       syncer.ModeDailyUpdate,
		Progress:   "failed",
		StartedAt:  &started,
		FinishedAt: &finished,
		LastError:  &msg,
		Counts:     syncer.Counts{Total: 3, Synced: 1, Failed: 2, Rows: 5},
	}, finished)

	assert.Equal(t, "daily_update", doc.Mode)
	assert.False(t, doc.Succeeded)
	assert.Equal(t, msg, doc.LastError)
	assert.EqualValues(t, 90000, doc.DurationMS)
	assert.EqualValues(t, 2, doc.Counts.Failed)

	raw, err := bson.Marshal(doc)
	assert.NoError(t, err)
	var back bson.M
	assert.NoError(t, bson.Unmarshal(raw, &back))
	assert.Equal(t, "daily_update", back["mode"])
	assert.Contains(t, back, "counts")
}

func TestToDocumentSuccess(t *testing.T) {
	doc := toDocument(syncer.Snapshot{Mode: syncer.ModeFullImport, Progress: "completed"}, time.Now())
	assert.True(t, doc.Succeeded)
	assert.Empty(t, doc.LastError)
	assert.Zero(t, doc.DurationMS)
}
