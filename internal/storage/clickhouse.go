package storage

import (
	"context"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gosight/pagelab/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// PageViewRow represents a row in the page_views table
type PageViewRow struct {
	EventID    string
	PageID     string
	VisitorID  string
	Timestamp  time.Time
	Referrer   string
	Browser    string
	OS         string
	DeviceType string
	Country    string
	City       string
	IPAddress  string
}

// ConversionRow represents a row in the conversions table
type ConversionRow struct {
	EventID    string
	TestID     string
	VariantID  string
	VisitorID  string
	Timestamp  time.Time
	Browser    string
	DeviceType string
	Country    string
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

// Migrate creates the event tables. ClickHouse runs one statement per Exec.
func (c *ClickHouse) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(ClickHouseSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClickHouse) InsertPageViews(ctx context.Context, pageViews []PageViewRow) error {
	if len(pageViews) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO page_views (
			event_id, page_id, visitor_id, timestamp, referrer,
			browser, os, device_type, country, city, ip_address
		)
	`)
	if err != nil {
		return err
	}

	for _, pv := range pageViews {
		err := batch.Append(
			pv.EventID, pv.PageID, pv.VisitorID, pv.Timestamp, pv.Referrer,
			pv.Browser, pv.OS, pv.DeviceType, pv.Country, pv.City, pv.IPAddress,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertConversions(ctx context.Context, conversions []ConversionRow) error {
	if len(conversions) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO conversions (
			event_id, test_id, variant_id, visitor_id, timestamp,
			browser, device_type, country
		)
	`)
	if err != nil {
		return err
	}

	for _, cv := range conversions {
		err := batch.Append(
			cv.EventID, cv.TestID, cv.VariantID, cv.VisitorID, cv.Timestamp,
			cv.Browser, cv.DeviceType, cv.Country,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
