package replication

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jackc/pgx/v5"

	"github.com/nodalflow/pgcdc/pkg/catalog"
	"github.com/nodalflow/pgcdc/pkg/cdcevent"
	"github.com/nodalflow/pgcdc/pkg/sourcedb"
)

func newResolverForTest(ctx context.Context, dsn string) (*sourcedb.Handler, error) {
	return sourcedb.Connect(ctx, dsn)
}

// recordingConsumer accumulates every handler invocation for assertion,
// mirroring the scenario checks in spec.md §8.
type recordingConsumer struct {
	mu          sync.Mutex
	slotCreated int
	begins      int
	events      []*cdcevent.ChangeEvent
	commits     int
	stopOn      func(*cdcevent.ChangeEvent) bool
}

func (c *recordingConsumer) HandleSlotCreated(ctx context.Context, info cdcevent.SlotInitInfo, commit CommitFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slotCreated++
	return nil
}

func (c *recordingConsumer) HandleBegin(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	return nil
}

func (c *recordingConsumer) HandleRelation(ctx context.Context, schema *catalog.TableSchema, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	return nil
}

func (c *recordingConsumer) HandleChangeEvent(ctx context.Context, event *cdcevent.ChangeEvent, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	stop := c.stopOn != nil && c.stopOn(event)
	c.mu.Unlock()
	if stop {
		return Stop
	}
	return nil
}

func (c *recordingConsumer) HandleCommit(ctx context.Context, txn cdcevent.Transaction, envelope cdcevent.ReplicationMessage, commit CommitFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	commit(envelope.DataStart)
	return nil
}

func skipUnlessIntegration(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE")
	if dsn == "" {
		t.Skip("TEST_DATABASE not set")
	}
	return dsn
}

// TestSessionInsertUpdateDeleteMarker mirrors spec.md §8 scenario 3: insert,
// update, then a delete that serves as the marker the consumer stops on.
func TestSessionInsertUpdateDeleteMarker(t *testing.T) {
	dsn := skipUnlessIntegration(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := pgx.Connect(ctx, dsn)
	require.NoError(t, err)
	defer admin.Close(ctx)

	slotName := fmt.Sprintf("pgcdc_test_%s", uuid.NewString()[:8])
	pubName := fmt.Sprintf("pgcdc_test_pub_%s", uuid.NewString()[:8])

	_, err = admin.Exec(ctx, `CREATE TABLE IF NOT EXISTS integration (
		id bigint PRIMARY KEY, json_data jsonb, amount numeric(10,2),
		updated_at timestamptz, text_data text)`)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, fmt.Sprintf(`CREATE PUBLICATION %s FOR TABLE integration`, pubName))
	require.NoError(t, err)
	defer admin.Exec(context.Background(), fmt.Sprintf(`DROP PUBLICATION IF EXISTS %s`, pubName))
	defer admin.Exec(context.Background(), fmt.Sprintf(`SELECT pg_drop_replication_slot('%s')`, slotName))

	consumer := &recordingConsumer{
		stopOn: func(e *cdcevent.ChangeEvent) bool {
			return e.Op == cdcevent.OpDelete
		},
	}

	resolver, err := newResolverForTest(ctx, dsn)
	require.NoError(t, err)
	defer resolver.Close()

	session := NewSession(Config{
		DSN:             dsn + "&replication=database",
		Database:        "testdb",
		PublicationName: pubName,
		SlotName:        slotName,
	}, consumer, resolver, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	time.Sleep(500 * time.Millisecond) // let slot creation land before DML

	_, err = admin.Exec(ctx, `INSERT INTO integration(id, json_data, amount, updated_at, text_data)
		VALUES (10, '{"data":10}', 10.20, '2020-01-01 00:00:00+00', 'dummy_value')`)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `UPDATE integration SET text_data='changed' WHERE id=10`)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `DELETE FROM integration WHERE id=10`)
	require.NoError(t, err)

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("session did not stop after marker delete")
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	require.Equal(t, 1, consumer.slotCreated)
	require.GreaterOrEqual(t, consumer.begins, 3)
	require.Len(t, consumer.events, 3)
	require.Equal(t, cdcevent.OpInsert, consumer.events[0].Op)
	require.Equal(t, cdcevent.OpUpdate, consumer.events[1].Op)
	require.Equal(t, cdcevent.OpDelete, consumer.events[2].Op)
}
