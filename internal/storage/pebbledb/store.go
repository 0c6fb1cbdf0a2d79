package pebbledb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/locks"
)

// key prefixes
const (
	accountPrefix      = 'a' // a<address> -> account json
	digestPrefix       = 'd' // d<digest> -> position
	entryPrefix        = 'e' // e<position BE> -> entry json
	addressIndexPrefix = 'x' // x<address>0x00<position BE> -> empty
)

const tailLockKey = "tail"

// Store is a LedgerStore on an embedded pebble database. Pebble has no row
// locks, so they are emulated in process; a single process must own the
// directory.
type Store struct {
	db       *pebble.DB
	commitMu sync.Mutex // serializes batch commits and account creation
	rowLocks *locks.Table
}

// NewStore opens (or creates) the database under storeDir.
func NewStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "hashchain-ledger-store"), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble db")
	}

	return &Store{db: db, rowLocks: locks.NewTable()}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func accountKey(address string) []byte {
	return append([]byte{accountPrefix}, address...)
}

func entryKey(position uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{entryPrefix}, position)
}

func digestKey(digest string) []byte {
	return append([]byte{digestPrefix}, digest...)
}

func addressIndexPrefixFor(address string) []byte {
	key := append([]byte{addressIndexPrefix}, address...)
	return append(key, 0x00)
}

func addressIndexKey(address string, position uint64) []byte {
	return binary.BigEndian.AppendUint64(addressIndexPrefixFor(address), position)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) getJSON(key []byte, target any) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		return err
	}
	defer closer.Close()

	return json.Unmarshal(value, target)
}

func (s *Store) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	key := accountKey(account.Address)
	found, err := s.exists(key)
	if err != nil {
		return errors.Wrapf(err, "checking account [%s]", account.Address)
	}
	if found {
		return errors.Wrapf(interfaces.ErrAccountExists, "address [%s]", account.Address)
	}

	value, err := json.Marshal(account)
	if err != nil {
		return errors.Wrap(err, "marshalling account")
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return errors.Wrapf(err, "setting account [%s]", account.Address)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, address string) (models.Account, error) {
	var account models.Account
	err := s.getJSON(accountKey(address), &account)
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, errors.Wrapf(err, "getting account [%s]", address)
	}
	return account, nil
}

func (s *Store) getEntry(position uint64) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.getJSON(entryKey(position), &entry)
	if errors.Is(err, pebble.ErrNotFound) {
		return models.LedgerEntry{}, interfaces.ErrEntryNotFound
	}
	if err != nil {
		return models.LedgerEntry{}, errors.Wrapf(err, "getting entry [%d]", position)
	}
	return entry, nil
}

func (s *Store) GetEntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error) {
	value, closer, err := s.db.Get(digestKey(digest))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.LedgerEntry{}, interfaces.ErrEntryNotFound
	}
	if err != nil {
		return models.LedgerEntry{}, errors.Wrapf(err, "getting digest [%s]", digest)
	}
	position := binary.BigEndian.Uint64(value)
	closer.Close()

	return s.getEntry(position)
}

func (s *Store) GetEntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error) {
	prefix := addressIndexPrefixFor(address)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	result := make([]models.LedgerEntry, 0)
	for iter.Last(); iter.Valid(); iter.Prev() {
		position := binary.BigEndian.Uint64(iter.Key()[len(prefix):])
		entry, err := s.getEntry(position)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, iter.Error()
}

func (s *Store) ScanEntries(ctx context.Context, fn func(entry models.LedgerEntry) error) error {
	snapshot := s.db.NewSnapshot()
	defer snapshot.Close()

	iter, err := snapshot.NewIter(&pebble.IterOptions{
		LowerBound: []byte{entryPrefix},
		UpperBound: []byte{entryPrefix + 1},
	})
	if err != nil {
		return errors.Wrap(err, "creating snapshot iterator")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry models.LedgerEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return errors.Wrapf(err, "decoding entry key [%x]", iter.Key())
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *Store) tail() (models.ChainTail, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{entryPrefix},
		UpperBound: []byte{entryPrefix + 1},
	})
	if err != nil {
		return models.ChainTail{}, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	if !iter.Last() {
		return models.ChainTail{}, iter.Error()
	}
	var entry models.LedgerEntry
	if err := json.Unmarshal(iter.Value(), &entry); err != nil {
		return models.ChainTail{}, errors.Wrap(err, "decoding tail entry")
	}
	return models.ChainTail{Position: entry.Position, Digest: entry.Digest}, nil
}

// WithinTx stages the writes of fn and commits them as one pebble batch.
func (s *Store) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	tx := &storeTx{
		store:    s,
		accounts: make(map[string]models.Account),
	}
	defer tx.held.ReleaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *storeTx) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, account := range tx.accounts {
		if !tx.dirty[account.Address] {
			continue
		}
		value, err := json.Marshal(account)
		if err != nil {
			return errors.Wrap(err, "marshalling account")
		}
		if err := batch.Set(accountKey(account.Address), value, nil); err != nil {
			return errors.Wrap(err, "staging account")
		}
	}

	for _, entry := range tx.entries {
		// last-resort uniqueness check, the tail lock should make this unreachable
		for _, key := range [][]byte{entryKey(entry.Position), digestKey(entry.Digest)} {
			taken, err := s.exists(key)
			if err != nil {
				return errors.Wrap(err, "checking entry uniqueness")
			}
			if taken {
				return errors.Wrapf(interfaces.ErrPositionConflict, "position [%d]", entry.Position)
			}
		}

		value, err := json.Marshal(entry)
		if err != nil {
			return errors.Wrap(err, "marshalling entry")
		}
		var position []byte
		position = binary.BigEndian.AppendUint64(position, entry.Position)

		if err := batch.Set(entryKey(entry.Position), value, nil); err != nil {
			return errors.Wrap(err, "staging entry")
		}
		if err := batch.Set(digestKey(entry.Digest), position, nil); err != nil {
			return errors.Wrap(err, "staging digest index")
		}
		if err := batch.Set(addressIndexKey(entry.FromAddress, entry.Position), nil, nil); err != nil {
			return errors.Wrap(err, "staging sender index")
		}
		if err := batch.Set(addressIndexKey(entry.ToAddress, entry.Position), nil, nil); err != nil {
			return errors.Wrap(err, "staging receiver index")
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing batch")
	}
	return nil
}

type storeTx struct {
	store      *Store
	held       locks.Held
	accounts   map[string]models.Account // locked accounts with staged balances
	dirty      map[string]bool
	tailLocked bool
	tail       models.ChainTail
	entries    []models.LedgerEntry
}

func (tx *storeTx) LockAccount(ctx context.Context, address string) (models.Account, error) {
	if account, ok := tx.accounts[address]; ok {
		return account, nil
	}

	release, err := tx.store.rowLocks.Acquire(ctx, "account/"+address)
	if err != nil {
		return models.Account{}, errors.Wrapf(err, "locking account [%s]", address)
	}
	tx.held.Add(release)

	account, err := tx.store.GetAccount(ctx, address)
	if err != nil {
		return models.Account{}, err
	}
	tx.accounts[address] = account
	return account, nil
}

func (tx *storeTx) LockTail(ctx context.Context) (models.ChainTail, error) {
	if tx.tailLocked {
		return tx.tail, nil
	}

	release, err := tx.store.rowLocks.Acquire(ctx, tailLockKey)
	if err != nil {
		return models.ChainTail{}, errors.Wrap(err, "locking chain tail")
	}
	tx.held.Add(release)
	tx.tailLocked = true

	tail, err := tx.store.tail()
	if err != nil {
		return models.ChainTail{}, err
	}
	tx.tail = tail
	return tail, nil
}

func (tx *storeTx) UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error {
	account, ok := tx.accounts[address]
	if !ok {
		return errors.Errorf("account [%s] updated without holding its lock", address)
	}
	account.Balance = balance
	tx.accounts[address] = account
	if tx.dirty == nil {
		tx.dirty = make(map[string]bool)
	}
	tx.dirty[address] = true
	return nil
}

func (tx *storeTx) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	if !tx.tailLocked {
		return errors.New("entry inserted without holding the chain tail")
	}
	if entry.Position != tx.tail.Position+1 {
		return errors.Wrapf(interfaces.ErrPositionConflict, "position [%d] does not follow tail [%d]", entry.Position, tx.tail.Position)
	}
	for _, staged := range tx.entries {
		if staged.Digest == entry.Digest {
			return errors.Wrapf(interfaces.ErrPositionConflict, "digest [%s]", entry.Digest)
		}
	}
	tx.entries = append(tx.entries, entry)
	tx.tail = models.ChainTail{Position: entry.Position, Digest: entry.Digest}
	return nil
}

var _ interfaces.LedgerStore = (*Store)(nil)
