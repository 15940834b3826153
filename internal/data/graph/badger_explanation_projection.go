package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/yungbote/biograph-backend/internal/platform/logger"
)

const badgerBackendName = "badger"

// Key layout:
//
//	chain/<root_id>/<yyyy-mm-dd>/<explanation_id> -> JSON Chain
const chainPrefix = "chain/"

type BadgerOptions struct {
	Dir      string
	InMemory bool
}

// BadgerProjection is an embedded chain projection for single-node deployments.
type BadgerProjection struct {
	mu     sync.RWMutex
	db     *badger.DB
	log    *logger.Logger
	closed bool
}

func NewBadgerProjection(opts BadgerOptions, baseLog *logger.Logger) (*BadgerProjection, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" && !opts.InMemory {
		return nil, fmt.Errorf("graph: badger dir required unless in-memory")
	}
	bopts := badger.DefaultOptions(dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("graph: open badger: %w", err)
	}
	return &BadgerProjection{db: db, log: baseLog.With("projection", "BadgerExplanationProjection")}, nil
}

func (p *BadgerProjection) Backend() string { return badgerBackendName }

func (p *BadgerProjection) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProjectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.db.View(func(txn *badger.Txn) error { return nil })
}

func (p *BadgerProjection) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}

func chainDayPrefix(rootID string, asOf time.Time) []byte {
	return []byte(chainPrefix + rootID + "/" + asOfKey(asOf) + "/")
}

func chainKey(rootID string, asOf time.Time, c Chain) []byte {
	return append(chainDayPrefix(rootID, asOf), []byte(c.ExplanationID.String())...)
}

func (p *BadgerProjection) ReplaceChains(ctx context.Context, asOf time.Time, rootIDs []string, chains []Chain) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProjectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	roots := uniqueStrings(rootIDs)
	if len(roots) == 0 {
		return nil
	}
	inScope := make(map[string]bool, len(roots))
	for _, r := range roots {
		inScope[r] = true
	}

	keep := map[string][]byte{}
	values := map[string][]byte{}
	for _, c := range chains {
		if !inScope[c.RootID] {
			continue
		}
		c.AsOfDate, _ = time.Parse(time.DateOnly, asOfKey(asOf))
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("graph: encode chain: %w", err)
		}
		k := chainKey(c.RootID, asOf, c)
		keep[string(k)] = k
		values[string(k)] = raw
	}

	wb := p.db.NewWriteBatch()
	defer wb.Cancel()

	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, root := range roots {
			prefix := chainDayPrefix(root, asOf)
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				k := it.Item().KeyCopy(nil)
				if _, ok := keep[string(k)]; ok {
					continue
				}
				if err := wb.Delete(k); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("graph: scan stale chains: %w", err)
	}
	for ks, k := range keep {
		if err := wb.Set(k, values[ks]); err != nil {
			return fmt.Errorf("graph: write chain: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("graph: flush chains: %w", err)
	}
	return nil
}

func (p *BadgerProjection) ChainsForRoot(ctx context.Context, rootID string, asOf time.Time) ([]Chain, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProjectionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Chain
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := chainDayPrefix(rootID, asOf)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c Chain
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				p.log.Warn("skipping undecodable chain", "key", string(it.Item().Key()), "error", err)
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: read chains: %w", err)
	}
	sortChains(out)
	return out, nil
}

func (p *BadgerProjection) Roots(ctx context.Context, asOf time.Time) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProjectionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Root ids may contain '/', so the root is whatever sits between the
	// prefix and the trailing /<date>/<explanation_id>.
	daySegment := "/" + asOfKey(asOf) + "/"
	var roots []string
	err := p.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(chainPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().Key())
			rest := strings.TrimPrefix(k, chainPrefix)
			if len(rest) < len(daySegment)+36 {
				continue
			}
			tail := rest[len(rest)-36-len(daySegment):]
			if !strings.HasPrefix(tail, daySegment) {
				continue
			}
			roots = append(roots, rest[:len(rest)-len(tail)])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: list roots: %w", err)
	}
	roots = uniqueStrings(roots)
	sort.Strings(roots)
	return roots, nil
}
