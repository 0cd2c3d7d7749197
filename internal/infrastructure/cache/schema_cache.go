package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"unchained/pkg/logger"
)

// SchemaChannel is the NOTIFY channel carrying names of altered tables.
const SchemaChannel = "unchained_schema_changed"

// SchemaCache memoizes the live column set of each provisioned table for the
// process lifetime. Other processes altering a table announce it through
// PostgreSQL NOTIFY so every process drops its stale entry.
type SchemaCache struct {
	pool   *pgxpool.Pool
	mu     sync.RWMutex
	tables map[string]map[string]struct{}

	listeners   []InvalidationListener
	listenersMu sync.RWMutex

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// InvalidationListener is called with the table whose schema changed.
type InvalidationListener func(table string)

// NewSchemaCache creates a schema cache. A nil pool disables cross-process notifications.
func NewSchemaCache(pool *pgxpool.Pool) *SchemaCache {
	return &SchemaCache{
		pool:   pool,
		tables: make(map[string]map[string]struct{}),
	}
}

// Start begins listening for schema change notifications.
func (c *SchemaCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(c.ctx, "schema cache listening", "channel", SchemaChannel)
}

// Stop gracefully stops the listener.
func (c *SchemaCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *SchemaCache) listenLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			time.Sleep(time.Second)
			continue
		}

		if _, err = conn.Exec(c.ctx, "LISTEN "+SchemaChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			time.Sleep(time.Second)
			continue
		}

		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *SchemaCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		notification, err := conn.Conn().WaitForNotification(ctx)
		cancel()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			// timeouts are expected; a broken connection is re-acquired
			if conn.Conn().IsClosed() {
				return
			}
			continue
		}

		logger.Debug(c.ctx, "schema change received", "table", notification.Payload)
		c.Invalidate(strings.TrimSpace(notification.Payload))
	}
}

// Columns returns the memoized column set of table.
func (c *SchemaCache) Columns(table string) (map[string]struct{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cols, ok := c.tables[table]
	return cols, ok
}

// Store memoizes the column set of table.
func (c *SchemaCache) Store(table string, columns []string) {
	set := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		set[col] = struct{}{}
	}
	c.mu.Lock()
	c.tables[table] = set
	c.mu.Unlock()
}

// Invalidate drops the memoized columns of table, or of every table when empty,
// and informs the registered listeners.
func (c *SchemaCache) Invalidate(table string) {
	c.mu.Lock()
	if table == "" {
		c.tables = make(map[string]map[string]struct{})
	} else {
		delete(c.tables, table)
	}
	c.mu.Unlock()

	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, listener := range c.listeners {
		func(l InvalidationListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error(context.Background(), "schema listener panic recovered", "table", table, "panic", r)
				}
			}()
			l(table)
		}(listener)
	}
}

// Notify announces a schema change of table to every listening process.
func (c *SchemaCache) Notify(ctx context.Context, table string) error {
	if c.pool == nil {
		return nil
	}
	_, err := c.pool.Exec(ctx, "SELECT pg_notify($1, $2)", SchemaChannel, table)
	return err
}

// OnInvalidation registers a callback for invalidation events.
func (c *SchemaCache) OnInvalidation(listener InvalidationListener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, listener)
	c.listenersMu.Unlock()
}
