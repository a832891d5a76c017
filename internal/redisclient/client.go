package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"order-fulfillment/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/put_inventory.lua
var putInventoryScript string

// ErrCacheMiss is returned when no snapshot is cached for a product.
var ErrCacheMiss = errors.New("inventory snapshot not cached")

type Client struct {
	rdb       *redis.Client
	ttl       time.Duration
	putScript *redis.Script
}

// NewClient creates a new Redis client. Snapshots expire after ttl.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:       rdb,
		ttl:       ttl,
		putScript: redis.NewScript(putInventoryScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productID int64) string {
	return fmt.Sprintf("inventory:%d", productID)
}

// PutInventory caches a committed inventory record. The cache is a read
// model only; reservations always go through the database row lock.
// A snapshot older than the cached one is ignored.
func (c *Client) PutInventory(ctx context.Context, rec *models.InventoryRecord) error {
	_, err := c.putScript.Run(ctx, c.rdb,
		[]string{inventoryKey(rec.ProductID)}, putArgs(rec, c.ttl)...).Result()
	if err != nil {
		return fmt.Errorf("cache inventory for product %d: %w", rec.ProductID, err)
	}
	return nil
}

// GetInventory returns the cached record, ErrCacheMiss when absent.
func (c *Client) GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(productID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read cached inventory for product %d: %w", productID, err)
	}
	if len(result) == 0 {
		return nil, ErrCacheMiss
	}
	return parseSnapshot(productID, result)
}

// EvictInventory drops a cached snapshot
func (c *Client) EvictInventory(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, inventoryKey(productID)).Err()
}

// snapshotVersion orders snapshots of one product. Microseconds match the
// precision of the stored timestamp and stay exact as a Lua number.
func snapshotVersion(rec *models.InventoryRecord) int64 {
	return rec.UpdatedAt.UnixMicro()
}

func putArgs(rec *models.InventoryRecord, ttl time.Duration) []interface{} {
	fields := snapshotFields(rec)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	args := make([]interface{}, 0, 2+2*len(fields))
	args = append(args, snapshotVersion(rec), ttl.Milliseconds())
	for _, name := range names {
		args = append(args, name, fields[name])
	}
	return args
}

func snapshotFields(rec *models.InventoryRecord) map[string]interface{} {
	return map[string]interface{}{
		"total":      rec.TotalQuantity,
		"reserved":   rec.ReservedQuantity,
		"threshold":  rec.LowStockThreshold,
		"low_stock":  strconv.FormatBool(rec.LowStock),
		"updated_at": rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func parseSnapshot(productID int64, fields map[string]string) (*models.InventoryRecord, error) {
	rec := &models.InventoryRecord{ProductID: productID}

	ints := []struct {
		name string
		dst  *int
	}{
		{"total", &rec.TotalQuantity},
		{"reserved", &rec.ReservedQuantity},
		{"threshold", &rec.LowStockThreshold},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(fields[f.name])
		if err != nil {
			return nil, fmt.Errorf("cached inventory %d: field %s: %w", productID, f.name, err)
		}
		*f.dst = v
	}

	lowStock, err := strconv.ParseBool(fields["low_stock"])
	if err != nil {
		return nil, fmt.Errorf("cached inventory %d: field low_stock: %w", productID, err)
	}
	rec.LowStock = lowStock

	if ts := fields["updated_at"]; ts != "" {
		updatedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("cached inventory %d: field updated_at: %w", productID, err)
		}
		rec.UpdatedAt = updatedAt
	}

	return rec, nil
}
