package memory

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/memory/consts"
	"github.com/barekit/ragchat/pkg/memory/inmemory"
	mongomem "github.com/barekit/ragchat/pkg/memory/mongo"
	"github.com/barekit/ragchat/pkg/memory/mssql"
	"github.com/barekit/ragchat/pkg/memory/mysql"
	"github.com/barekit/ragchat/pkg/memory/neo4j"
	"github.com/barekit/ragchat/pkg/memory/postgres"
	"github.com/barekit/ragchat/pkg/memory/redis"
	"github.com/barekit/ragchat/pkg/memory/sqlite"
)

type Type string

const (
	TypeSQLite   Type = "sqlite"
	TypePostgres Type = "postgres"
	TypeMySQL    Type = "mysql"
	TypeMSSQL    Type = "mssql"
	TypeRedis    Type = "redis"
	TypeNeo4j    Type = "neo4j"
	TypeMongo    Type = "mongo"
	TypeInMemory Type = "inmemory"
)

// Config holds configuration for memory adapters.
type Config struct {
	Type             Type   `yaml:"type"`
	ConnectionString string `yaml:"connection_string"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	DBName           string `yaml:"db_name"`
}

// NewFactory creates a new memory adapter based on the configuration.
func NewFactory(ctx context.Context, cfg Config) (Memory, error) {
	switch cfg.Type {
	case TypeSQLite:
		return sqlite.New(cfg.ConnectionString)

	case TypePostgres:
		return postgres.New(cfg.ConnectionString)

	case TypeRedis:
		opts, err := goredis.ParseURL(cfg.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse redis url: %w", errdefs.ErrValidation, err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: failed to ping redis: %w", errdefs.ErrStorage, err)
		}
		return redis.New(client), nil

	case TypeNeo4j:
		dbName := "neo4j" // Community edition only serves the default database
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		return neo4j.New(ctx, cfg.ConnectionString, cfg.Username, cfg.Password, dbName)

	case TypeMongo:
		opts := options.Client().ApplyURI(cfg.ConnectionString)
		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to connect to mongo: %w", errdefs.ErrStorage, err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, fmt.Errorf("%w: failed to ping mongo: %w", errdefs.ErrStorage, err)
		}
		dbName := consts.DefaultDBName
		if cfg.DBName != "" {
			dbName = cfg.DBName
		}
		return mongomem.New(client, dbName, consts.TableNameMessages), nil

	case TypeMySQL:
		return mysql.New(cfg.ConnectionString)

	case TypeMSSQL:
		return mssql.New(cfg.ConnectionString)

	case TypeInMemory, "":
		return inmemory.New(), nil

	default:
		return nil, fmt.Errorf("%w: unsupported memory type: %s", errdefs.ErrValidation, cfg.Type)
	}
}
