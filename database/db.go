package database

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		intentCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("intent cache disabled: %v", errCache)
			intentCache = nil
		}
		instance = &Datasource{Conn: con, Cache: intentCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	// The database may still be coming up when the process starts;
	// retry the ping before giving up.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err = backoff.Retry(db.Ping, bo)
	if err != nil {
		log.Printf("database connection error: %v", err)
		return nil, err
	}

	err = createIntentTable(db)
	if err != nil {
		return nil, err
	}
	err = createCounterpartyTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createIntentTable creates the PostgreSQL table backing the ledger.
// One durable row per payment intent; corrections happen via
// compensating entries, never edits, so there is no DELETE path.
func createIntentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payment_intents (
			id SERIAL PRIMARY KEY,
			intent_id TEXT NOT NULL UNIQUE,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			amount NUMERIC(30,9) NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL DEFAULT 'other',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN ('PENDING', 'SUBMITTED', 'CONFIRMED', 'FAILED')),
			reason TEXT NOT NULL DEFAULT '',
			submission_ref TEXT NOT NULL DEFAULT '',
			settlement_ref TEXT NOT NULL DEFAULT '',
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_attempt_at TIMESTAMPTZ,
			settled_at TIMESTAMPTZ,
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_listing ON payment_intents (created_at DESC, intent_id ASC);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_status ON payment_intents (status);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_category ON payment_intents (category)
	`)
	if err != nil {
		log.Printf("Error creating payment_intents table: %v", err)
	}
	return err
}

// createCounterpartyTable creates the read-only counterparty directory.
func createCounterpartyTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS counterparties (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'other',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating counterparties table: %v", err)
	}
	return err
}
