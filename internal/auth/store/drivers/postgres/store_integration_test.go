package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store/drivers/postgres"
)

// setupPostgres starts a throwaway Postgres and returns a migrated store.
// Skipped with -short or when no container runtime is reachable.
func setupPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "auth",
			"POSTGRES_PASSWORD": "auth",
			"POSTGRES_DB":       "auth",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://auth:auth@%s:%s/auth?sslmode=disable", host, port.Port())
	s, err := postgres.NewStore(ctx, postgres.Config{URL: url, PingTimeout: 10 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestPostgresStore(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("revocation first reason wins", func(t *testing.T) {
		rv := domain.Revocation{
			CID: "rv1", Subject: "u1", Kind: "renewal",
			ExpiresAt: t0.Add(time.Hour), RevokedAt: t0, Reason: domain.ReasonRotated,
		}
		require.NoError(t, s.Revocations().Insert(ctx, rv))
		rv.Reason = domain.ReasonLogout
		require.NoError(t, s.Revocations().Insert(ctx, rv))

		got, err := s.Revocations().Get(ctx, "rv1")
		require.NoError(t, err)
		require.Equal(t, domain.ReasonRotated, got.Reason)
		require.True(t, got.ExpiresAt.Equal(t0.Add(time.Hour)))
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		require.NoError(t, s.Rotations().Insert(ctx, domain.Rotation{
			CID: "rot1", Subject: "u1", ChainID: "ch1", AccessCID: "a1",
			ExpiresAt: t0.Add(time.Hour), CreatedAt: t0,
		}))

		const n = 12
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			wins  int
			loses int
		)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.WithTx(ctx, func(tx store.Tx) error {
					return tx.Rotations().MarkConsumed(ctx, "rot1", fmt.Sprintf("child-%d", i), t0)
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, store.ErrAlreadyConsumed):
					loses++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, wins)
		require.Equal(t, n-1, loses)

		chain, err := s.Rotations().ListByChain(ctx, "ch1")
		require.NoError(t, err)
		require.Len(t, chain, 1)
		require.True(t, chain[0].Consumed())
	})

	t.Run("sessions are scoped to their owner", func(t *testing.T) {
		for _, id := range []string{"s1", "s2", "s3"} {
			require.NoError(t, s.Sessions().Upsert(ctx, domain.Session{
				ID: id, Subject: "u9", ChainID: "chain-" + id, CurrentCID: "cur-" + id,
				CreatedAt: t0, LastSeenAt: t0, ExpiresAt: t0.Add(time.Hour),
			}))
		}

		_, err := s.Sessions().Revoke(ctx, "s1", "someone-else", domain.ReasonSessionRevoked, t0)
		require.ErrorIs(t, err, store.ErrNotFound)

		revoked, err := s.Sessions().RevokeAllExcept(ctx, "u9", "s2", domain.ReasonSessionsRevoked, t0)
		require.NoError(t, err)
		require.Len(t, revoked, 2)

		active, err := s.Sessions().ListActive(ctx, "u9", t0)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "s2", active[0].ID)
	})

	t.Run("locked session holds off revocation", func(t *testing.T) {
		require.NoError(t, s.Sessions().Upsert(ctx, domain.Session{
			ID: "lk1", Subject: "u10", ChainID: "chain-lk1", CurrentCID: "cur-lk1",
			CreatedAt: t0, LastSeenAt: t0, ExpiresAt: t0.Add(time.Hour),
		}))

		revoked := make(chan error, 1)
		err := s.WithTx(ctx, func(tx store.Tx) error {
			sess, err := tx.Sessions().LockByChain(ctx, "chain-lk1")
			require.NoError(t, err)
			require.Nil(t, sess.RevokedAt)

			go func() {
				_, err := s.Sessions().Revoke(ctx, "lk1", "u10", domain.ReasonSessionRevoked, t0)
				revoked <- err
			}()
			require.Never(t, func() bool { return len(revoked) > 0 }, 300*time.Millisecond, 20*time.Millisecond)
			return nil
		})
		require.NoError(t, err)

		select {
		case err := <-revoked:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("revocation still blocked after commit")
		}

		_, err = s.Sessions().LockByChain(ctx, "chain-missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("users and audit", func(t *testing.T) {
		u := domain.User{ID: "u1", Identifier: "alice", SecretHash: "h", CreatedAt: t0}
		require.NoError(t, s.Users().Create(ctx, u))
		u.ID = "u2"
		require.ErrorIs(t, s.Users().Create(ctx, u), store.ErrAlreadyExists)

		require.NoError(t, s.Audit().Append(ctx, domain.AuditEvent{
			ID: "e1", Subject: "u1", Type: domain.AuditLoginSuccess, Success: true,
			OccurredAt: t0, Detail: []byte(`{"session_id":"s1"}`),
		}))
		events, err := s.Audit().ListBySubject(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.JSONEq(t, `{"session_id":"s1"}`, string(events[0].Detail))
	})
}
