package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"

	"github.com/ledgerproto/ledgerd/pkg/errs"
	"github.com/ledgerproto/ledgerd/pkg/metrics"
	"github.com/ledgerproto/ledgerd/pkg/types"
)

// SQLStore implements Store on top of a distributed SQL backend reachable
// through database/sql and lib/pq. Every entity is stored as an opaque
// JSON blob keyed by its content address or block number; the schema
// exists to give the engine transactional commits and indexed lookups,
// not to expose a queryable relational model of predicate internals.
type SQLStore struct {
	db *sql.DB
}

// SQLStoreConfig configures the connection pool, mirroring the knobs a
// distributed SQL deployment needs tuned per environment.
type SQLStoreConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// NewSQLStore opens the connection pool, verifies connectivity, and
// bootstraps the schema if it does not already exist.
func NewSQLStore(ctx context.Context, cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, errs.Storagef(nil, "sql store: dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errs.Storagef(err, "open sql database")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errs.Storagef(err, "ping sql database")
	}

	s := &SQLStore{db: db}
	if err := s.bootstrapSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) bootstrapSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS contracts (
	address     bytea PRIMARY KEY,
	data        bytea NOT NULL,
	signature   bytea NOT NULL,
	deployed_at timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS predicates (
	contract bytea NOT NULL,
	address  bytea NOT NULL,
	data     bytea NOT NULL,
	PRIMARY KEY (contract, address)
);
CREATE TABLE IF NOT EXISTS state_cells (
	contract bytea NOT NULL,
	key      bytea NOT NULL,
	value    bytea NOT NULL,
	PRIMARY KEY (contract, key)
);
CREATE TABLE IF NOT EXISTS pool_solutions (
	address bytea PRIMARY KEY,
	data    bytea NOT NULL
);
CREATE TABLE IF NOT EXISTS solution_outcomes (
	id           bigserial PRIMARY KEY,
	address      bytea NOT NULL,
	success      boolean NOT NULL,
	block_number bigint,
	reason       text,
	at           timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS solution_outcomes_address_idx ON solution_outcomes (address);
CREATE TABLE IF NOT EXISTS blocks (
	number       bigint PRIMARY KEY,
	data         bytea NOT NULL,
	committed_at timestamptz NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errs.Storagef(err, "bootstrap sql schema")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) PutContract(ctx context.Context, contract types.Contract, signature []byte) error {
	addr := contract.Address()
	signed := types.SignedContract{Contract: contract, Signature: signature}
	data, err := json.Marshal(signed)
	if err != nil {
		return errs.Storagef(err, "encode contract %s", addr)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin put contract %s", addr)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO contracts (address, data, signature, deployed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (address) DO NOTHING`,
		addr[:], data, signature, time.Now())
	if err != nil {
		return errs.Storagef(err, "insert contract %s", addr)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit() // idempotent: already deployed
	}

	for _, p := range contract.Predicates {
		pAddr := p.Address()
		pData, err := json.Marshal(p)
		if err != nil {
			return errs.Storagef(err, "encode predicate %s", pAddr)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO predicates (contract, address, data) VALUES ($1, $2, $3)
			 ON CONFLICT (contract, address) DO NOTHING`,
			addr[:], pAddr[:], pData); err != nil {
			return errs.Storagef(err, "insert predicate %s", pAddr)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit put contract %s", addr)
	}
	return nil
}

func (s *SQLStore) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM contracts WHERE address = $1`, addr[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Storagef(err, "get contract %s", addr)
	}
	var signed types.SignedContract
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, false, errs.Storagef(err, "decode contract %s", addr)
	}
	return &signed, true, nil
}

func (s *SQLStore) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM predicates WHERE contract = $1 AND address = $2`,
		contract[:], predicate[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Storagef(err, "get predicate %s/%s", contract, predicate)
	}
	var pred types.Predicate
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, false, errs.Storagef(err, "decode predicate %s/%s", contract, predicate)
	}
	return &pred, true, nil
}

func (s *SQLStore) ListContracts(ctx context.Context, tr *TimeRange, page Page) ([]types.SignedContract, error) {
	query := `SELECT data FROM contracts WHERE deployed_at >= $1 AND deployed_at <= $2 ORDER BY deployed_at ASC`
	from, to := timeRangeBounds(tr)
	args := []interface{}{from, to}
	if page.Limit > 0 {
		query += ` LIMIT $3 OFFSET $4`
		args = append(args, page.Limit, page.Offset)
	} else {
		query += ` OFFSET $3`
		args = append(args, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "list contracts")
	}
	defer rows.Close()

	var out []types.SignedContract
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Storagef(err, "scan contract row")
		}
		var signed types.SignedContract
		if err := json.Unmarshal(data, &signed); err != nil {
			return nil, errs.Storagef(err, "decode contract row")
		}
		out = append(out, signed)
	}
	return out, rows.Err()
}

func timeRangeBounds(tr *TimeRange) (time.Time, time.Time) {
	from := time.Unix(0, 0).UTC()
	to := time.Now().Add(24 * time.Hour).UTC()
	if tr == nil {
		return from, to
	}
	if !tr.From.IsZero() {
		from = tr.From
	}
	if !tr.To.IsZero() {
		to = tr.To
	}
	return from, to
}

func (s *SQLStore) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM state_cells WHERE contract = $1 AND key = $2`,
		contract[:], []byte(keyString(key))).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storagef(err, "query state %s", contract)
	}
	var value types.Value
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errs.Storagef(err, "decode state cell %s", contract)
	}
	return value, nil
}

func (s *SQLStore) UpdateState(ctx context.Context, contract types.ContentAddress, key types.Key, value types.Value) (types.Value, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Storagef(err, "begin update state %s", contract)
	}
	defer tx.Rollback()

	ks := []byte(keyString(key))
	prev, err := scanStateCell(ctx, tx, contract, ks)
	if err != nil {
		return nil, err
	}

	if value.Empty() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM state_cells WHERE contract = $1 AND key = $2`, contract[:], ks); err != nil {
			return nil, errs.Storagef(err, "delete state cell %s", contract)
		}
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errs.Storagef(err, "encode state cell %s", contract)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_cells (contract, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (contract, key) DO UPDATE SET value = EXCLUDED.value`,
			contract[:], ks, data); err != nil {
			return nil, errs.Storagef(err, "upsert state cell %s", contract)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Storagef(err, "commit update state %s", contract)
	}
	return prev, nil
}

func scanStateCell(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}, contract types.ContentAddress, ks []byte) (types.Value, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT value FROM state_cells WHERE contract = $1 AND key = $2`, contract[:], ks).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storagef(err, "scan state cell %s", contract)
	}
	var value types.Value
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errs.Storagef(err, "decode state cell %s", contract)
	}
	return value, nil
}

func (s *SQLStore) InsertSolutionsIntoPool(ctx context.Context, solutions []types.Solution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin insert solutions")
	}
	defer tx.Rollback()

	for _, sol := range solutions {
		addr := sol.Address()
		data, err := json.Marshal(sol)
		if err != nil {
			return errs.Storagef(err, "encode solution %s", addr)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pool_solutions (address, data) VALUES ($1, $2) ON CONFLICT (address) DO NOTHING`,
			addr[:], data); err != nil {
			return errs.Storagef(err, "insert solution %s", addr)
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit insert solutions")
	}
	return nil
}

func (s *SQLStore) SolutionInPool(ctx context.Context, addr types.ContentAddress) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pool_solutions WHERE address = $1)`, addr[:]).Scan(&exists)
	if err != nil {
		return false, errs.Storagef(err, "check pool membership %s", addr)
	}
	return exists, nil
}

func (s *SQLStore) RemoveSolutionsFromPool(ctx context.Context, addrs []types.ContentAddress) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin remove solutions")
	}
	defer tx.Rollback()
	if err := removeFromPoolSQL(ctx, tx, addrs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit remove solutions")
	}
	return nil
}

func removeFromPoolSQL(ctx context.Context, tx *sql.Tx, addrs []types.ContentAddress) error {
	for _, addr := range addrs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_solutions WHERE address = $1`, addr[:]); err != nil {
			return errs.Storagef(err, "delete pool solution %s", addr)
		}
	}
	return nil
}

func (s *SQLStore) ListSolutionsPool(ctx context.Context, page Page) ([]types.Solution, error) {
	query := `SELECT data FROM pool_solutions ORDER BY address ASC OFFSET $1`
	args := []interface{}{page.Offset}
	if page.Limit > 0 {
		query = `SELECT data FROM pool_solutions ORDER BY address ASC LIMIT $1 OFFSET $2`
		args = []interface{}{page.Limit, page.Offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "list pool")
	}
	defer rows.Close()

	var out []types.Solution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Storagef(err, "scan pool row")
		}
		var sol types.Solution
		if err := json.Unmarshal(data, &sol); err != nil {
			return nil, errs.Storagef(err, "decode pool row")
		}
		out = append(out, sol)
	}
	return out, rows.Err()
}

func appendOutcomeSQL(ctx context.Context, tx *sql.Tx, addr types.ContentAddress, outcome types.SolutionOutcome) error {
	var blockNumber sql.NullInt64
	if outcome.Success {
		blockNumber = sql.NullInt64{Int64: int64(outcome.Block), Valid: true}
	}
	var reason sql.NullString
	if !outcome.Success {
		reason = sql.NullString{String: outcome.Reason, Valid: true}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO solution_outcomes (address, success, block_number, reason, at) VALUES ($1, $2, $3, $4, $5)`,
		addr[:], outcome.Success, blockNumber, reason, outcome.At)
	if err != nil {
		return errs.Storagef(err, "insert solution outcome %s", addr)
	}
	return nil
}

func (s *SQLStore) MoveSolutionsToSolved(ctx context.Context, blockNumber uint64, addrs []types.ContentAddress) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin move solutions to solved")
	}
	defer tx.Rollback()

	now := time.Now()
	for _, addr := range addrs {
		if err := appendOutcomeSQL(ctx, tx, addr, types.SucceededOutcome(blockNumber, now)); err != nil {
			return err
		}
	}
	if err := removeFromPoolSQL(ctx, tx, addrs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit move solutions to solved")
	}
	return nil
}

func (s *SQLStore) MoveSolutionsToFailed(ctx context.Context, failures []FailedSolution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin move solutions to failed")
	}
	defer tx.Rollback()

	now := time.Now()
	addrs := make([]types.ContentAddress, 0, len(failures))
	for _, f := range failures {
		if err := appendOutcomeSQL(ctx, tx, f.Address, types.FailedOutcome(f.Reason, now)); err != nil {
			return err
		}
		addrs = append(addrs, f.Address)
	}
	if err := removeFromPoolSQL(ctx, tx, addrs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit move solutions to failed")
	}
	return nil
}

func (s *SQLStore) GetSolutionOutcomes(ctx context.Context, addr types.ContentAddress) ([]types.SolutionOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT success, block_number, reason, at FROM solution_outcomes WHERE address = $1 ORDER BY id ASC`,
		addr[:])
	if err != nil {
		return nil, errs.Storagef(err, "get solution outcomes %s", addr)
	}
	defer rows.Close()

	var out []types.SolutionOutcome
	for rows.Next() {
		var success bool
		var blockNumber sql.NullInt64
		var reason sql.NullString
		var at time.Time
		if err := rows.Scan(&success, &blockNumber, &reason, &at); err != nil {
			return nil, errs.Storagef(err, "scan solution outcome row")
		}
		if success {
			out = append(out, types.SucceededOutcome(uint64(blockNumber.Int64), at))
		} else {
			out = append(out, types.FailedOutcome(reason.String, at))
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) ListBlocks(ctx context.Context, tr *TimeRange, page Page, sinceBlock *uint64) ([]types.Block, error) {
	from, to := timeRangeBounds(tr)
	since := int64(-1)
	if sinceBlock != nil {
		since = int64(*sinceBlock)
	}

	query := `SELECT data FROM blocks WHERE committed_at >= $1 AND committed_at <= $2 AND number > $3 ORDER BY number ASC`
	args := []interface{}{from, to, since}
	if page.Limit > 0 {
		query += ` LIMIT $4 OFFSET $5`
		args = append(args, page.Limit, page.Offset)
	} else {
		query += ` OFFSET $4`
		args = append(args, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storagef(err, "list blocks")
	}
	defer rows.Close()

	var out []types.Block
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errs.Storagef(err, "scan block row")
		}
		var block types.Block
		if err := json.Unmarshal(data, &block); err != nil {
			return nil, errs.Storagef(err, "decode block row")
		}
		out = append(out, block)
	}
	return out, rows.Err()
}

func (s *SQLStore) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(number) FROM blocks`).Scan(&number)
	if err != nil {
		return 0, errs.Storagef(err, "latest block number")
	}
	if !number.Valid {
		return 0, nil
	}
	return uint64(number.Int64), nil
}

func (s *SQLStore) CommitBlock(ctx context.Context, proposal BlockProposal) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StorageOperationDuration, "commit_block", "sql")

	if err := s.commitBlockTx(ctx, proposal); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("commit_block", "sql").Inc()
		return err
	}
	return nil
}

func (s *SQLStore) commitBlockTx(ctx context.Context, proposal BlockProposal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storagef(err, "begin commit block %d", proposal.Block.Number)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE blocks IN EXCLUSIVE MODE`); err != nil {
		return errs.Storagef(err, "lock blocks table")
	}
	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(number) FROM blocks`).Scan(&latest); err != nil {
		return errs.Storagef(err, "read latest block number")
	}
	latestNumber := uint64(0)
	if latest.Valid {
		latestNumber = uint64(latest.Int64)
	}
	if proposal.Block.Number != latestNumber+1 {
		return errs.Consistencyf(nil, "commit block %d out of order, latest is %d", proposal.Block.Number, latestNumber)
	}

	for _, mut := range proposal.Mutations {
		ks := []byte(keyString(mut.Key))
		if mut.Value.Empty() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM state_cells WHERE contract = $1 AND key = $2`, mut.Contract[:], ks); err != nil {
				return errs.Storagef(err, "delete state cell during commit")
			}
			continue
		}
		data, err := json.Marshal(mut.Value)
		if err != nil {
			return errs.Storagef(err, "encode state mutation")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_cells (contract, key, value) VALUES ($1, $2, $3)
			 ON CONFLICT (contract, key) DO UPDATE SET value = EXCLUDED.value`,
			mut.Contract[:], ks, data); err != nil {
			return errs.Storagef(err, "upsert state cell during commit")
		}
	}

	now := time.Now()
	for _, addr := range proposal.Solved {
		if err := appendOutcomeSQL(ctx, tx, addr, types.SucceededOutcome(proposal.Block.Number, now)); err != nil {
			return err
		}
	}
	for _, f := range proposal.Failed {
		if err := appendOutcomeSQL(ctx, tx, f.Address, types.FailedOutcome(f.Reason, now)); err != nil {
			return err
		}
	}
	removed := append([]types.ContentAddress{}, proposal.Solved...)
	for _, f := range proposal.Failed {
		removed = append(removed, f.Address)
	}
	if err := removeFromPoolSQL(ctx, tx, removed); err != nil {
		return err
	}

	blockData, err := json.Marshal(proposal.Block)
	if err != nil {
		return errs.Storagef(err, "encode block %d", proposal.Block.Number)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocks (number, data, committed_at) VALUES ($1, $2, $3)`,
		proposal.Block.Number, blockData, now); err != nil {
		return errs.Storagef(err, "insert block %d", proposal.Block.Number)
	}

	if err := tx.Commit(); err != nil {
		return errs.Storagef(err, "commit block %d", proposal.Block.Number)
	}
	return nil
}

// NewSnapshot begins a repeatable-read read-only transaction, giving the
// caller a consistent point-in-time view for the duration of one
// validation pass.
func (s *SQLStore) NewSnapshot(ctx context.Context) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, errs.Storagef(err, "begin snapshot transaction")
	}
	return &sqlSnapshot{tx: tx}, nil
}

type sqlSnapshot struct {
	tx *sql.Tx
}

// Close releases the snapshot's read transaction. See boltSnapshot.Close
// for the same pattern against the bbolt backend.
func (sn *sqlSnapshot) Close() error {
	return sn.tx.Rollback()
}

func (sn *sqlSnapshot) QueryState(ctx context.Context, contract types.ContentAddress, key types.Key) (types.Value, error) {
	return scanStateCell(ctx, sn.tx, contract, []byte(keyString(key)))
}

func (sn *sqlSnapshot) GetContract(ctx context.Context, addr types.ContentAddress) (*types.SignedContract, bool, error) {
	var data []byte
	err := sn.tx.QueryRowContext(ctx, `SELECT data FROM contracts WHERE address = $1`, addr[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Storagef(err, "get contract %s", addr)
	}
	var signed types.SignedContract
	if err := json.Unmarshal(data, &signed); err != nil {
		return nil, false, errs.Storagef(err, "decode contract %s", addr)
	}
	return &signed, true, nil
}

func (sn *sqlSnapshot) GetPredicate(ctx context.Context, contract, predicate types.ContentAddress) (*types.Predicate, bool, error) {
	var data []byte
	err := sn.tx.QueryRowContext(ctx,
		`SELECT data FROM predicates WHERE contract = $1 AND address = $2`,
		contract[:], predicate[:]).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Storagef(err, "get predicate %s/%s", contract, predicate)
	}
	var pred types.Predicate
	if err := json.Unmarshal(data, &pred); err != nil {
		return nil, false, errs.Storagef(err, "decode predicate %s/%s", contract, predicate)
	}
	return &pred, true, nil
}

var _ Store = (*SQLStore)(nil)
