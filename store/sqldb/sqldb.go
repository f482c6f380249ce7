/*
Package sqldb provides a database/sql implementation of insurance.Store for
SQLite and PostgreSQL.

PURPOSE:
  One set of queries serves both engines. Queries are written with '?'
  placeholders and rebound to $n for PostgreSQL; the schema differs only
  in how auto-increment keys are declared.

KEY TABLES:
  owners:   car owners
  cars:     insured cars (unique VIN)
  policies: coverage windows plus the expiration_notified_at marker
  claims:   damage claims, amount stored as decimal TEXT

DATES:
  Calendar dates are stored as YYYY-MM-DD TEXT so that ordering and range
  filters are plain string comparisons on both engines. The marker is an
  RFC3339 timestamp that keeps the offset it was written with.

INDEXES:
  - idx_cars_vin: enforces VIN uniqueness
  - idx_policies_car: per-car lookups (validity, history)
  - idx_policies_pending_expiration: partial index on end_date for rows
    without a marker, the monitor's hot path

CONCURRENCY:
  Uses sync.RWMutex around statements, as WAL-mode SQLite still allows a
  single writer. With PostgreSQL the database serializes instead, and the
  marker update is guarded by "expiration_notified_at IS NULL".

USAGE:
  store, err := sqldb.Open(sqldb.SQLite, "./data/carinsurance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - insurance/store.go: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/car-insurance/insurance"
)

// Driver names a supported database/sql driver.
type Driver string

const (
	SQLite   Driver = "sqlite3"
	Postgres Driver = "postgres"
)

// ParseDriver accepts the driver names used in configuration.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", s)
	}
}

// Store implements insurance.Store on database/sql.
type Store struct {
	db     *sql.DB
	driver Driver
	mu     sync.RWMutex
}

var _ insurance.Store = (*Store)(nil)

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory
// database.
func New(dbPath string) (*Store, error) {
	return Open(SQLite, dbPath)
}

// Open connects with the given driver and migrates the schema.
func Open(driver Driver, dsn string) (*Store, error) {
	source := dsn
	if driver == SQLite {
		source = dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(string(driver), source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if driver == SQLite && dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(defaultMaxOpenConns)
		db.SetMaxIdleConns(defaultMaxIdleConns)
		db.SetConnMaxLifetime(defaultConnMaxLifetime)
		db.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driver: driver}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnMaxIdleTime = 1 * time.Minute
)

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	fk := "INTEGER"
	if s.driver == Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
		fk = "BIGINT"
	}

	schema := `
	CREATE TABLE IF NOT EXISTS owners (
		id ` + pk + `,
		name TEXT NOT NULL,
		email TEXT
	);

	CREATE TABLE IF NOT EXISTS cars (
		id ` + pk + `,
		vin TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year_of_manufacture INTEGER NOT NULL,
		owner_id ` + fk + ` NOT NULL REFERENCES owners(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_cars_vin ON cars(vin);

	CREATE TABLE IF NOT EXISTS policies (
		id ` + pk + `,
		car_id ` + fk + ` NOT NULL REFERENCES cars(id),
		provider TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		expiration_notified_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_policies_car
		ON policies(car_id, start_date);

	-- Only rows the expiration monitor still has to look at
	CREATE INDEX IF NOT EXISTS idx_policies_pending_expiration
		ON policies(end_date) WHERE expiration_notified_at IS NULL;

	CREATE TABLE IF NOT EXISTS claims (
		id ` + pk + `,
		car_id ` + fk + ` NOT NULL REFERENCES cars(id),
		claim_date TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_car
		ON claims(car_id, claim_date);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// CARS AND OWNERS (insurance.CarStore)
// =============================================================================

// CreateOwner inserts an owner and sets its ID.
func (s *Store) CreateOwner(ctx context.Context, owner *insurance.Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind("INSERT INTO owners (name, email) VALUES (?, ?) RETURNING id"),
		owner.Name, nullString(owner.Email),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create owner: %w", err)
	}
	owner.ID = insurance.OwnerID(id)
	return nil
}

// CountOwners returns the number of owners.
func (s *Store) CountOwners(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM owners").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count owners: %w", err)
	}
	return count, nil
}

// CreateCar inserts a car and sets its ID.
func (s *Store) CreateCar(ctx context.Context, car *insurance.Car) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO cars (vin, make, model, year_of_manufacture, owner_id)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		car.VIN, car.Make, car.Model, car.YearOfManufacture, int64(car.OwnerID),
	).Scan(&id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return insurance.ErrDuplicateVIN
		}
		return fmt.Errorf("failed to create car: %w", err)
	}
	car.ID = insurance.CarID(id)
	return nil
}

// ListCars returns all cars joined with their owners.
func (s *Store) ListCars(ctx context.Context) ([]insurance.Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.vin, c.make, c.model, c.year_of_manufacture, c.owner_id, o.name, o.email
		FROM cars c
		JOIN owners o ON o.id = c.owner_id
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cars: %w", err)
	}
	defer rows.Close()

	var cars []insurance.Car
	for rows.Next() {
		var (
			c     insurance.Car
			email sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.VIN, &c.Make, &c.Model, &c.YearOfManufacture,
			&c.OwnerID, &c.Owner.Name, &email); err != nil {
			return nil, fmt.Errorf("failed to scan car: %w", err)
		}
		c.Owner.ID = c.OwnerID
		c.Owner.Email = email.String
		cars = append(cars, c)
	}
	return cars, rows.Err()
}

// CarExists reports whether a car with the ID exists.
func (s *Store) CarExists(ctx context.Context, id insurance.CarID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM cars WHERE id = ?"), int64(id),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to look up car: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// POLICIES (insurance.PolicyStore)
// =============================================================================

const policyColumns = "id, car_id, provider, start_date, end_date, expiration_notified_at"

// CreatePolicy validates and inserts a policy, setting its ID.
func (s *Store) CreatePolicy(ctx context.Context, policy *insurance.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO policies (car_id, provider, start_date, end_date, expiration_notified_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		int64(policy.CarID), policy.Provider,
		policy.StartDate.String(), policy.EndDate.String(),
		nullTime(policy.ExpirationNotifiedAt),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	policy.ID = insurance.PolicyID(id)
	return nil
}

// GetPolicy retrieves a policy by ID.
func (s *Store) GetPolicy(ctx context.Context, id insurance.PolicyID) (*insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+policyColumns+" FROM policies WHERE id = ?"), int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query policy: %w", err)
	}
	defer rows.Close()

	policies, err := scanPolicies(rows)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, insurance.ErrPolicyNotFound
	}
	return &policies[0], nil
}

// ListPoliciesByCar returns the car's policies ordered by start date.
func (s *Store) ListPoliciesByCar(ctx context.Context, carID insurance.CarID) ([]insurance.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT "+policyColumns+" FROM policies WHERE car_id = ? ORDER BY start_date, id"),
		int64(carID))
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// HasPolicyCovering reports whether start_date <= date <= end_date for any
// of the car's policies.
func (s *Store) HasPolicyCovering(ctx context.Context, carID insurance.CarID, date insurance.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM policies WHERE car_id = ? AND start_date <= ? AND end_date >= ?"),
		int64(carID), date.String(), date.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check coverage: %w", err)
	}
	return count > 0, nil
}

func scanPolicies(rows *sql.Rows) ([]insurance.Policy, error) {
	var policies []insurance.Policy
	for rows.Next() {
		var (
			p          insurance.Policy
			start, end string
			notifiedAt sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CarID, &p.Provider, &start, &end, &notifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}

		var err error
		if p.StartDate, err = insurance.ParseDate(start); err != nil {
			return nil, fmt.Errorf("policy %d start_date: %w", p.ID, err)
		}
		if p.EndDate, err = insurance.ParseDate(end); err != nil {
			return nil, fmt.Errorf("policy %d end_date: %w", p.ID, err)
		}
		if notifiedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, notifiedAt.String)
			if err != nil {
				return nil, fmt.Errorf("policy %d expiration_notified_at: %w", p.ID, err)
			}
			p.ExpirationNotifiedAt = &t
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// CLAIMS (insurance.ClaimStore)
// =============================================================================

// CreateClaim inserts a claim and sets its ID.
func (s *Store) CreateClaim(ctx context.Context, claim *insurance.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO claims (car_id, claim_date, description, amount)
		VALUES (?, ?, ?, ?) RETURNING id`),
		int64(claim.CarID), claim.ClaimDate.String(), claim.Description, claim.Amount.String(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	claim.ID = insurance.ClaimID(id)
	return nil
}

// ListClaimsByCar returns the car's claims ordered by claim date.
func (s *Store) ListClaimsByCar(ctx context.Context, carID insurance.CarID) ([]insurance.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		s.rebind("SELECT id, car_id, claim_date, description, amount FROM claims WHERE car_id = ? ORDER BY claim_date, id"),
		int64(carID))
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []insurance.Claim
	for rows.Next() {
		var (
			c                 insurance.Claim
			claimDate, amount string
		)
		if err := rows.Scan(&c.ID, &c.CarID, &claimDate, &c.Description, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		if c.ClaimDate, err = insurance.ParseDate(claimDate); err != nil {
			return nil, fmt.Errorf("claim %d claim_date: %w", c.ID, err)
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("claim %d amount: %w", c.ID, err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// =============================================================================
// TRANSACTIONAL EXPIRATION ACCESS (insurance.ExpirationStore)
// =============================================================================

// WithinExpirationTx executes fn within a database transaction.
func (s *Store) WithinExpirationTx(ctx context.Context, fn func(insurance.ExpirationTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&expirationTx{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type expirationTx struct {
	tx     *sql.Tx
	parent *Store
}

func (et *expirationTx) PendingExpirations(ctx context.Context, q insurance.PendingExpirationQuery) ([]insurance.Policy, error) {
	query := "SELECT " + policyColumns + " FROM policies WHERE expiration_notified_at IS NULL AND end_date <= ?"
	args := []any{q.EndTo.String()}
	if !q.EndFrom.IsZero() {
		query += " AND end_date >= ?"
		args = append(args, q.EndFrom.String())
	}
	query += " ORDER BY id"

	rows, err := et.tx.QueryContext(ctx, et.parent.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending expirations: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (et *expirationTx) MarkExpirationNotified(ctx context.Context, ids []insurance.PolicyID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	stmt, err := et.tx.PrepareContext(ctx, et.parent.rebind(
		"UPDATE policies SET expiration_notified_at = ? WHERE id = ? AND expiration_notified_at IS NULL"))
	if err != nil {
		return fmt.Errorf("failed to prepare marker update: %w", err)
	}
	defer stmt.Close()

	stamp := at.Format(time.RFC3339Nano)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, stamp, int64(id)); err != nil {
			return fmt.Errorf("failed to mark policy %d: %w", id, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// rebind rewrites '?' placeholders to $1..$n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
