package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

//go:embed schema.sql
var schema string

// postgres error codes the ledger reacts to
const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	lockNotAvailable     = "55P03"
	queryCanceled        = "57014"
)

// PostgresLedgerStore is the authoritative interfaces.LedgerStore. Account
// rows and the single chain_tail row are locked with SELECT ... FOR UPDATE,
// and the unique position and digest columns back up the tail lock.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore wraps an open connection pool. Call Migrate before
// the first transfer.
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Open connects to url and checks the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "opening postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "applying schema")
	}
	return nil
}

// CreateAccount inserts account, failing with ErrAccountExists on a taken address.
func (p *PostgresLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (address, balance, frozen, created_at) VALUES ($1, $2, $3, $4)`

	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, query, account.Address, account.Balance, account.Frozen, createdAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Wrapf(interfaces.ErrAccountExists, "address [%s]", account.Address)
	}
	if err != nil {
		return errors.Wrapf(err, "inserting account [%s]", account.Address)
	}
	return nil
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, address string) (models.Account, error) {
	const query = `SELECT address, balance, frozen, created_at FROM accounts WHERE address = $1`

	var account models.Account
	err := p.db.QueryRowContext(ctx, query, address).Scan(&account.Address, &account.Balance, &account.Frozen, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, errors.Wrapf(err, "selecting account [%s]", address)
	}
	return account, nil
}

const entryColumns = `position, from_address, to_address, amount, prev_digest, digest, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var position int64
	err := row.Scan(
		&position,
		&entry.FromAddress,
		&entry.ToAddress,
		&entry.Amount,
		&entry.PrevDigest,
		&entry.Digest,
		&entry.CreatedAt,
	)
	entry.Position = uint64(position)
	return entry, err
}

func (p *PostgresLedgerStore) GetEntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE digest = $1`

	entry, err := scanEntry(p.db.QueryRowContext(ctx, query, digest))
	if err == sql.ErrNoRows {
		return models.LedgerEntry{}, interfaces.ErrEntryNotFound
	}
	if err != nil {
		return models.LedgerEntry{}, errors.Wrapf(err, "selecting entry [%s]", digest)
	}
	return entry, nil
}

// GetEntriesByAddress returns entries on either side of address, newest first.
// A non-positive limit returns all of them.
func (p *PostgresLedgerStore) GetEntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE from_address = $1 OR to_address = $1
	ORDER BY position DESC
	LIMIT $2`

	var maxRows sql.NullInt64 // NULL means no limit
	if limit > 0 {
		maxRows = sql.NullInt64{Int64: int64(limit), Valid: true}
	}
	rows, err := p.db.QueryContext(ctx, query, address, maxRows)
	if err != nil {
		return nil, errors.Wrapf(err, "selecting entries of [%s]", address)
	}
	defer rows.Close()

	entries := make([]models.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ScanEntries reads inside a read-only REPEATABLE READ transaction, so the
// whole scan sees one snapshot and never waits on writers.
func (p *PostgresLedgerStore) ScanEntries(ctx context.Context, fn func(entry models.LedgerEntry) error) error {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "beginning snapshot")
	}
	defer dbTx.Rollback()

	rows, err := dbTx.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY position ASC`)
	if err != nil {
		return errors.Wrap(err, "selecting entries")
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return errors.Wrap(err, "scanning entry")
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// WithinTx runs fn in one database transaction, committing only if fn succeeds.
func (p *PostgresLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(&postgresTx{tx: dbTx}); err != nil {
		return err
	}
	if err = dbTx.Commit(); err != nil {
		return mapError(ctx, err, "committing transaction")
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

// setLockTimeout bounds the next lock wait by what is left of ctx.
func (t *postgresTx) setLockTimeout(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	remaining := time.Until(deadline).Milliseconds()
	if remaining < 1 {
		return interfaces.ErrLockTimeout
	}
	_, err := t.tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, fmt.Sprintf("%dms", remaining))
	return mapError(ctx, err, "setting lock timeout")
}

func (t *postgresTx) LockAccount(ctx context.Context, address string) (models.Account, error) {
	const query = `SELECT address, balance, frozen, created_at FROM accounts WHERE address = $1 FOR UPDATE`

	if err := t.setLockTimeout(ctx); err != nil {
		return models.Account{}, err
	}
	var account models.Account
	err := t.tx.QueryRowContext(ctx, query, address).Scan(&account.Address, &account.Balance, &account.Frozen, &account.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, mapError(ctx, err, fmt.Sprintf("locking account [%s]", address))
	}
	return account, nil
}

func (t *postgresTx) LockTail(ctx context.Context) (models.ChainTail, error) {
	const query = `SELECT position, digest FROM chain_tail WHERE id = 1 FOR UPDATE`

	if err := t.setLockTimeout(ctx); err != nil {
		return models.ChainTail{}, err
	}
	var position int64
	var tail models.ChainTail
	err := t.tx.QueryRowContext(ctx, query).Scan(&position, &tail.Digest)
	if err == sql.ErrNoRows {
		return models.ChainTail{}, errors.New("chain tail row missing, schema not migrated")
	}
	if err != nil {
		return models.ChainTail{}, mapError(ctx, err, "locking chain tail")
	}
	tail.Position = uint64(position)
	return tail, nil
}

func (t *postgresTx) UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = $1 WHERE address = $2`

	_, err := t.tx.ExecContext(ctx, query, balance, address)
	return mapError(ctx, err, fmt.Sprintf("updating balance of [%s]", address))
}

func (t *postgresTx) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := t.tx.ExecContext(ctx, query,
		int64(entry.Position),
		entry.FromAddress,
		entry.ToAddress,
		entry.Amount,
		entry.PrevDigest,
		entry.Digest,
		entry.CreatedAt,
	)
	if err != nil {
		return mapError(ctx, err, fmt.Sprintf("inserting entry [%d]", entry.Position))
	}

	_, err = t.tx.ExecContext(ctx, `UPDATE chain_tail SET position = $1, digest = $2 WHERE id = 1`, int64(entry.Position), entry.Digest)
	return mapError(ctx, err, "advancing chain tail")
}

// mapError turns postgres lock and uniqueness failures into the store
// sentinels; anything else is wrapped as is.
func mapError(ctx context.Context, err error, action string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case lockNotAvailable, deadlockDetected:
			return errors.Wrapf(interfaces.ErrLockTimeout, "%s: %s", action, pqErr.Message)
		case uniqueViolation, serializationFailure:
			return errors.Wrapf(interfaces.ErrPositionConflict, "%s: %s", action, pqErr.Message)
		case queryCanceled:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errors.Wrapf(interfaces.ErrLockTimeout, "%s: %s", action, pqErr.Message)
			}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(interfaces.ErrLockTimeout, action)
	}
	return errors.Wrap(err, action)
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
