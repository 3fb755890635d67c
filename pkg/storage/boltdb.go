package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkers = []byte("workers")
	bucketRuns    = []byte("runs")
	bucketEvents  = []byte("events")
)

// migrateOnce serializes bucket creation across goroutines within this
// process; §4.10's "migrations run exactly once per process startup,
// serialized by a process-wide initialization barrier" needs no more than
// that, since there is exactly one daemon process per workspace.
var migrateOnce sync.Once

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the bbolt file at dbPath and
// ensures its buckets exist. Grounded on
// cuemby-warren/pkg/storage/boltdb.go's NewBoltStore, narrowed to
// Granary's three buckets.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	var migrateErr error
	migrateOnce.Do(func() {
		migrateErr = db.Update(func(tx *bolt.Tx) error {
			for _, b := range [][]byte{bucketWorkers, bucketRuns, bucketEvents} {
				if _, err := tx.CreateBucketIfNotExists(b); err != nil {
					return fmt.Errorf("create bucket %s: %w", b, err)
				}
			}
			return nil
		})
	})
	if migrateErr != nil {
		db.Close()
		return nil, migrateErr
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Workers ---

func (s *BoltStore) CreateWorker(w *types.Worker) error {
	return s.putWorker(w)
}

func (s *BoltStore) UpdateWorker(w *types.Worker) error {
	return s.putWorker(w)
}

func (s *BoltStore) putWorker(w *types.Worker) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(w.ID), data)
	})
}

func (s *BoltStore) GetWorker(id string) (*types.Worker, error) {
	var w types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(id))
		if data == nil {
			return granaryerr.Newf(granaryerr.NotFound, "worker %q not found", id)
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkers() ([]*types.Worker, error) {
	var workers []*types.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(_, v []byte) error {
			var w types.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

func (s *BoltStore) DeleteWorker(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(id))
	})
}

// --- Runs ---

// runID formats a bucket sequence number as a fixed-width decimal string so
// that Run.ID's lexicographic order (required since it's an opaque string
// on the wire, per spec.md §3) matches its numeric/insertion order.
func runID(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

func (s *BoltStore) CreateRun(r *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if r.ID == "" {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			r.ID = runID(seq)
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return b.Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) UpdateRun(r *types.Run) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRuns).Put([]byte(r.ID), data)
	})
}

func (s *BoltStore) GetRun(id string) (*types.Run, error) {
	var r types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return granaryerr.Newf(granaryerr.NotFound, "run %s not found", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRunsByWorker(workerID string) ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r types.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.WorkerID == workerID {
				runs = append(runs, &r)
			}
			return nil
		})
	})
	return runs, err
}

func (s *BoltStore) ListActiveRuns() ([]*types.Run, error) {
	var runs []*types.Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r types.Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !r.Status.IsTerminal() {
				runs = append(runs, &r)
			}
			return nil
		})
	})
	return runs, err
}

// --- Events ---

// eventKey encodes an event ID as a big-endian uint64 so bucket iteration
// order matches numeric order (unlike Run.ID, Event.ID is a real int64 on
// the wire, so there's no lexicographic-ordering concern to work around).
func eventKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func (s *BoltStore) AppendEvent(e *types.Event) (int64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.ID = int64(seq)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(eventKey(e.ID), data)
	})
	if err != nil {
		return 0, err
	}
	return e.ID, nil
}

// ListEventsSince returns up to limit events with id > sinceID, ordered by
// id ascending, optionally filtered to eventType (empty matches all).
// Grounded on spec.md §4.6's "bounded-batch tail read of Events by
// (event_type, id > cursor, order_by id asc, limit)".
func (s *BoltStore) ListEventsSince(eventType string, sinceID int64, limit int) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(eventKey(sinceID + 1)); k != nil && len(events) < limit; k, v = c.Next() {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if eventType != "" && e.EventType != eventType {
				continue
			}
			events = append(events, &e)
		}
		return nil
	})
	return events, err
}

// MaxEventID returns the highest event ID currently stored, or 0 if empty.
// Used to seed a worker's "since" cursor at start time (spec.md §4.4).
func (s *BoltStore) MaxEventID() (int64, error) {
	var max int64
	err := s.db.View(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(bucketEvents).Cursor().Last()
		if v == nil {
			return nil
		}
		var e types.Event
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		max = e.ID
		return nil
	})
	return max, err
}
