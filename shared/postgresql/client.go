package postgresql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	// DriverPQ selects github.com/lib/pq
	DriverPQ = "postgres"
	// DriverPGX selects a jackc/pgx pool exposed through database/sql
	DriverPGX = "pgx"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the keyword/value connection string understood by both drivers
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}

// Client represents a PostgreSQL database client
type Client struct {
	db     *sqlx.DB
	pool   *pgxpool.Pool
	config *Config
	logger *slog.Logger
}

// NewClient creates a new PostgreSQL client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverPQ
	}

	logger.Info("Connecting to PostgreSQL",
		slog.String("driver", driver),
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("database", config.Database),
	)

	client := &Client{
		config: config,
		logger: logger,
	}

	switch driver {
	case DriverPQ:
		db, err := sqlx.Connect(DriverPQ, config.DSN())
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL",
				slog.Any("error", err),
			)
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		client.db = db
	case DriverPGX:
		pool, err := openPool(config)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL",
				slog.Any("error", err),
			)
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		client.pool = pool
		client.db = sqlx.NewDb(stdlib.OpenDBFromPool(pool), DriverPGX)
	default:
		return nil, fmt.Errorf("unsupported postgres driver: %s", driver)
	}

	// Set connection pool settings
	client.db.SetMaxOpenConns(config.MaxOpenConns)
	client.db.SetMaxIdleConns(config.MaxIdleConns)
	client.db.SetConnMaxLifetime(config.ConnMaxLifetime)
	client.db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping PostgreSQL",
			slog.Any("error", err),
		)
		client.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
		slog.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return client, nil
}

// openPool builds a pgx pool sized from the same settings as database/sql
func openPool(config *Config) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}

	if config.MaxOpenConns > 0 {
		pc.MaxConns = int32(config.MaxOpenConns)
	}
	pc.MaxConnLifetime = config.ConnMaxLifetime
	pc.MaxConnIdleTime = config.ConnMaxIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "imagepipe"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return pgxpool.NewWithConfig(ctx, pc)
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Info("Closing PostgreSQL connection",
		slog.String("stats", c.Stats()),
	)

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close PostgreSQL connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	if c.pool != nil {
		c.pool.Close()
	}

	c.logger.Info("PostgreSQL connection closed successfully")
	return nil
}

// Stats returns database statistics
func (c *Client) Stats() string {
	if c.db == nil {
		return ""
	}
	stats := c.db.Stats()
	return fmt.Sprintf(
		"MaxOpenConns: %d, OpenConns: %d, InUse: %d, Idle: %d, WaitCount: %d, WaitDuration: %s",
		stats.MaxOpenConnections,
		stats.OpenConnections,
		stats.InUse,
		stats.Idle,
		stats.WaitCount,
		stats.WaitDuration,
	)
}

// HealthCheck performs a health check on the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}

	return nil
}
