package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/goMFA/store"
	"github.com/MrEthical07/goMFA/store/storetest"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "mfa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openSQLite(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestDuplicateRangeIDIsConflict(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	r := &store.NetworkRange{ID: "dup", CIDR: "10.0.0.0/8", Kind: store.RangeWhitelist, Enabled: true}
	require.NoError(t, s.InsertNetworkRange(ctx, r))
	require.ErrorIs(t, s.InsertNetworkRange(ctx, r), store.ErrConflict)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	require.Error(t, err)
}
