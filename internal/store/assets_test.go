package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssetAssignsIdentity(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	a := &Asset{Code: "IT-0001", Name: "Laptop", Building: "HQ"}
	require.NoError(t, s.CreateAsset(ctx, a))

	assert.NotZero(t, a.ID)
	_, err := uuid.Parse(a.SyncID)
	assert.NoError(t, err, "sync id must be a UUID")

	at, err := ParseTime(a.UpdatedAt)
	require.NoError(t, err)
	assert.Equal(t, FormatTime(at), a.UpdatedAt, "timestamp must be canonical")
	assert.Equal(t, a.UpdatedAt, a.CreatedAt)
}

func TestUpdateAssetBumpsTimestamp(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	a := &Asset{Code: "IT-0001", Name: "Laptop"}
	require.NoError(t, s.CreateAsset(ctx, a))
	before := a.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	a.Name = "Laptop (loaner)"
	require.NoError(t, s.UpdateAsset(ctx, a))

	got, err := s.GetAssetBySyncID(ctx, a.SyncID)
	require.NoError(t, err)
	assert.Equal(t, "Laptop (loaner)", got.Name)
	assert.Greater(t, got.UpdatedAt, before, "edits must advance updated_at")
}

func TestDeleteAssetTombstones(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	a := &Asset{Code: "IT-0001", Name: "Laptop"}
	require.NoError(t, s.CreateAsset(ctx, a))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.DeleteAsset(ctx, a.SyncID))

	// Gone from listings, still resolvable directly.
	live, err := s.ListAssets(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	got, err := s.GetAssetBySyncID(ctx, a.SyncID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	// The tombstone is a change and must reach the next upload.
	changed, err := s.AssetsChangedSince(ctx, a.UpdatedAt)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Deleted)
}

func TestAssetsChangedSince(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	a1 := &Asset{Code: "IT-0001", Name: "Laptop"}
	require.NoError(t, s.CreateAsset(ctx, a1))

	time.Sleep(5 * time.Millisecond)
	watermark := s.Now()
	time.Sleep(5 * time.Millisecond)

	a2 := &Asset{Code: "IT-0002", Name: "Monitor"}
	require.NoError(t, s.CreateAsset(ctx, a2))

	changed, err := s.AssetsChangedSince(ctx, watermark)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, a2.SyncID, changed[0].SyncID)

	all, err := s.AssetsChangedSince(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApplyRemoteAssetInsertsUnknown(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	remote := &Asset{
		SyncID:    uuid.New().String(),
		Code:      "IT-0009",
		Name:      "Scanner",
		UpdatedAt: "2026-08-30T10:00:00Z", // server-style variable precision
	}
	require.NoError(t, s.ApplyRemoteAsset(ctx, remote))

	got, err := s.GetAssetBySyncID(ctx, remote.SyncID)
	require.NoError(t, err)
	assert.Equal(t, "Scanner", got.Name)
	assert.Equal(t, "2026-08-30T10:00:00.000Z", got.UpdatedAt, "stored timestamp must be canonical")
}

func TestApplyRemoteAssetNewerWins(t *testing.T) {
	s := migratedStore(t)
	ctx := context.Background()

	a := &Asset{Code: "IT-0001", Name: "Laptop"}
	require.NoError(t, s.CreateAsset(ctx, a))
	localAt, err := ParseTime(a.UpdatedAt)
	require.NoError(t, err)

	// Older remote copy loses.
	stale := &Asset{
		SyncID:    a.SyncID,
		Code:      a.Code,
		Name:      "Old name",
		UpdatedAt: FormatTime(localAt.Add(-time.Hour)),
	}
	require.NoError(t, s.ApplyRemoteAsset(ctx, stale))
	got, err := s.GetAssetBySyncID(ctx, a.SyncID)
	require.NoError(t, err)
	assert.Equal(t, "Laptop", got.Name)

	// An identical timestamp also loses: the local edit survives and will
	// be uploaded next round.
	tied := &Asset{SyncID: a.SyncID, Code: a.Code, Name: "Tied name", UpdatedAt: a.UpdatedAt}
	require.NoError(t, s.ApplyRemoteAsset(ctx, tied))
	got, err = s.GetAssetBySyncID(ctx, a.SyncID)
	require.NoError(t, err)
	assert.Equal(t, "Laptop", got.Name)

	// A strictly newer remote copy wins, tombstone included.
	newer := &Asset{
		SyncID:    a.SyncID,
		Code:      a.Code,
		Name:      "New name",
		Deleted:   true,
		UpdatedAt: FormatTime(localAt.Add(time.Hour)),
	}
	require.NoError(t, s.ApplyRemoteAsset(ctx, newer))
	got, err = s.GetAssetBySyncID(ctx, a.SyncID)
	require.NoError(t, err)
	assert.Equal(t, "New name", got.Name)
	assert.True(t, got.Deleted)
}

func TestApplyRemoteAssetRejectsBadTimestamp(t *testing.T) {
	s := migratedStore(t)

	remote := &Asset{SyncID: uuid.New().String(), Code: "IT-0001", Name: "X", UpdatedAt: "yesterday"}
	err := s.ApplyRemoteAsset(context.Background(), remote)
	require.Error(t, err)
}
