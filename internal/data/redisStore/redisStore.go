package redisStore

import (
	"context"
	"strconv"
	"sync"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/redis/go-redis/v9"
)

var (
	instances   = make(map[int]*Store)
	unreachable = make(map[string]error) //addr -> ping failure, so the other stores fail fast
	mu          sync.Mutex
	logger      *logger_i.Logger
	closeOnce   sync.Once
)

// Store is one logical redis DB. Jobs, chats, the catalog and index generations each get their own.
type Store struct {
	client *redis.Client
	Type   int
}

// GetRedisStore returns the shared store for one logical redis DB, or nil when redis is offline.
// The first store opened registers a closer that runs when ctx ends.
func GetRedisStore(ctx context.Context, cfg config.RedisSettings, db int) *Store {
	addr := cfg.Addr
	if addr == "" {
		addr = config.RedisAddr
	}

	mu.Lock()
	defer mu.Unlock()
	initLogger()

	if instance, ok := instances[db]; ok {
		return instance
	}
	if err, down := unreachable[addr]; down {
		logger.Debug("Skipping redis, it was offline at startup", "addr", addr, "db", db, "error", err)
		return nil
	}

	store, err := dial(ctx, addr, cfg.Password, db)
	if err != nil {
		unreachable[addr] = err
		logger.Error("Redis is offline", "addr", addr, "db", db, "error", err)
		return nil
	}
	instances[db] = store
	closeOnce.Do(func() {
		go closeRedisStores(ctx)
	})
	return store
}

func dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:                  addr,
		Password:              password,
		DB:                    db,
		ContextTimeoutEnabled: true,
		ReadTimeout:           config.RedisIOTimeout,
		WriteTimeout:          config.RedisIOTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, config.RedisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("Redis store ready", "db", strconv.Itoa(db))
	return &Store{client: client, Type: db}, nil
}

func initLogger() {
	if logger == nil {
		logger = logger_i.NewLogger("Redis Store")
	}
}

func closeRedisStores(ctx context.Context) {
	<-ctx.Done()
	logger.Info("Closing Redis Stores")
	mu.Lock()
	defer mu.Unlock()
	for db, store := range instances {
		if err := store.client.Close(); err != nil {
			logger.Error("Error closing redis client", "db", db, "error", err)
		}
		delete(instances, db)
	}
	logger.Info("Redis Store Closed successfully")
}

// NewTestStore wraps an existing client, typically one pointed at miniredis.
func NewTestStore(client *redis.Client) *Store {
	initLogger()
	return &Store{client: client}
}
