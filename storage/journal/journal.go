// Package journal persists committed market notifications in an append-only
// bbolt log. Entries are observational and are never read back to rebuild
// market state.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/viraj-mahida/betting-contract/core/types"
)

var (
	eventsBucket  = []byte("events")
	marketsBucket = []byte("markets")
)

// MarketAttribute is the event attribute used to index entries per market.
const MarketAttribute = "market"

// DefaultListLimit bounds List when the caller does not supply a limit.
const DefaultListLimit = 100

var errClosed = errors.New("journal: closed")

// Record is a single journal entry.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

// Journal is an append-only event log.
type Journal struct {
	db    *bolt.DB
	nowFn func() time.Time
}

// Open creates or opens the journal file at path.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal: path required")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(eventsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(marketsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: init buckets: %w", err)
	}
	return &Journal{db: db, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock used to stamp records.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	j.nowFn = now
}

// Append stores evt and returns its sequence number. Events carrying a market
// attribute are additionally indexed under that market.
func (j *Journal) Append(evt *types.Event) (uint64, error) {
	if j == nil || j.db == nil {
		return 0, errClosed
	}
	if evt == nil {
		return 0, fmt.Errorf("journal: nil event")
	}
	var seq uint64
	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(eventsBucket)
		next, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		seq = next
		record := Record{
			Sequence:   seq,
			Type:       evt.Type,
			Attributes: cloneAttributes(evt.Attributes),
			RecordedAt: j.nowFn().Unix(),
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return err
		}
		key := sequenceKey(seq)
		if err := bucket.Put(key, encoded); err != nil {
			return err
		}
		market := strings.TrimSpace(evt.Attribute(MarketAttribute))
		if market == "" {
			return nil
		}
		index, err := tx.Bucket(marketsBucket).CreateBucketIfNotExists([]byte(market))
		if err != nil {
			return err
		}
		return index.Put(key, []byte{})
	})
	if err != nil {
		return 0, fmt.Errorf("journal: append: %w", err)
	}
	return seq, nil
}

// List returns up to limit of the most recent records for market in append
// order. An empty market lists the whole journal.
func (j *Journal) List(market string, limit int) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, errClosed
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	market = strings.TrimSpace(market)
	records := make([]Record, 0, limit)
	err := j.db.View(func(tx *bolt.Tx) error {
		eventsB := tx.Bucket(eventsBucket)
		var cursor *bolt.Cursor
		if market == "" {
			cursor = eventsB.Cursor()
		} else {
			index := tx.Bucket(marketsBucket).Bucket([]byte(market))
			if index == nil {
				return nil
			}
			cursor = index.Cursor()
		}
		for key, _ := cursor.Last(); key != nil && len(records) < limit; key, _ = cursor.Prev() {
			raw := eventsB.Get(key)
			if raw == nil {
				return fmt.Errorf("dangling index entry %x", key)
			}
			var record Record
			if err := json.Unmarshal(raw, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	for i, k := 0, len(records)-1; i < k; i, k = i+1, k-1 {
		records[i], records[k] = records[k], records[i]
	}
	return records, nil
}

// Close releases the underlying file.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func cloneAttributes(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
