package main

import (
	"context"
	"fmt"
	"log"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"vega-market/internal/config"
)

// ReplacingMergeTree on inserted_at keeps re-imported buckets
// idempotent: the newest row for (key, timeframe, bucket_start) wins.
const candlesDDL = `
	CREATE TABLE IF NOT EXISTS candles (
		key LowCardinality(String),
		timeframe LowCardinality(String),
		bucket_start DateTime,
		open Float64 CODEC(Gorilla, ZSTD(1)),
		high Float64 CODEC(Gorilla, ZSTD(1)),
		low Float64 CODEC(Gorilla, ZSTD(1)),
		close Float64 CODEC(Gorilla, ZSTD(1)),
		volume Float64 CODEC(Gorilla, ZSTD(1)),
		source LowCardinality(String),
		inserted_at DateTime DEFAULT now(),
		date Date MATERIALIZED toDate(bucket_start)
	)
	ENGINE = ReplacingMergeTree(inserted_at)
	PARTITION BY (timeframe, toYYYYMM(date))
	ORDER BY (key, timeframe, bucket_start)
	TTL date + INTERVAL 2 YEAR
	SETTINGS index_granularity = 8192`

// Bloom filters cover the two point-lookup columns. Index creation is
// allowed to fail so reruns against an existing table stay green.
var indexDDL = []string{
	"ALTER TABLE candles ADD INDEX IF NOT EXISTS candles_key_bf (key) TYPE bloom_filter() GRANULARITY 1",
	"ALTER TABLE candles ADD INDEX IF NOT EXISTS candles_source_bf (source) TYPE bloom_filter() GRANULARITY 1",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ch := cfg.ClickHouse
	if ch.Host == "" {
		ch.Host = "localhost"
	}

	ctx := context.Background()

	// The target database may not exist yet, so bootstrap runs against
	// the default database first.
	admin, err := connect(ch, "default")
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	log.Printf("creating database %s", ch.Database)
	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", ch.Database)); err != nil {
		log.Fatalf("create database: %v", err)
	}
	admin.Close()

	conn, err := connect(ch, ch.Database)
	if err != nil {
		log.Fatalf("connect %s: %v", ch.Database, err)
	}
	defer conn.Close()

	log.Println("creating candles table")
	if err := conn.Exec(ctx, candlesDDL); err != nil {
		log.Fatalf("create candles table: %v", err)
	}

	for _, ddl := range indexDDL {
		if err := conn.Exec(ctx, ddl); err != nil {
			log.Printf("index skipped: %v", err)
		}
	}

	log.Printf("✅ migration complete, %s.candles is ready", ch.Database)
}

func connect(ch config.ClickHouseConfig, database string) (driver.Conn, error) {
	return clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", ch.Host, ch.Port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: ch.Username,
			Password: ch.Password,
		},
		DialTimeout: 10 * time.Second,
	})
}
