package jobstore

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"sort"
	"time"

	"github.com/kellanvoss/linkgraph/internal/extractor"
	"github.com/kellanvoss/linkgraph/internal/graph"
	"github.com/kellanvoss/linkgraph/pkg/fileutil"
	"go.etcd.io/bbolt"
)

/*
Responsibilities

- Persist jobs, per-page extracts, and latest metrics per target domain
- Guarantee that a reader who observes a completed job also observes its
  pages and its metrics (spec's §8 atomicity invariant)
- Record referrer seed URLs submitted out-of-band for a future crawl

Grounded on TheSnook-polyester's storage/bbolt.go: one bbolt.DB, bucket
per logical table, JSON-encoded values. This package generalizes that
single-bucket key-value pattern into the three related tables spec.md
§4.7 calls for, plus a referrer-seed side table.
*/

var (
	jobsBucket          = []byte("jobs")
	pagesBucket         = []byte("pages")
	metricsBucket       = []byte("metrics")
	referrerSeedsBucket = []byte("referrer_seeds")
)

// Store is the durable job store: one bbolt database file shared across
// all jobs and all target domains.
type Store struct {
	db *bbolt.DB
}

// Open creates (or reuses) the bbolt database at path, ensuring its
// parent directory exists and every required bucket is present.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := fileutil.EnsureDir(dir); err != nil {
			return nil, &StoreError{Message: err.Error(), Cause: ErrCauseOpenFailed}
		}
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Cause: ErrCauseOpenFailed}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{jobsBucket, pagesBucket, metricsBucket, referrerSeedsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &StoreError{Message: err.Error(), Cause: ErrCauseOpenFailed}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateJob inserts a pending job row and returns its auto-assigned id.
func (s *Store) CreateJob(targetDomain string, seedURLs []string) (uint64, error) {
	var jobID uint64

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(jobsBucket)
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		jobID = id

		job := Job{
			ID:           id,
			TargetDomain: targetDomain,
			SeedURLs:     seedURLs,
			Status:       StatusPending,
			CreatedAt:    time.Now(),
		}
		return putJSON(bucket, itob(id), job)
	})
	if err != nil {
		return 0, &StoreError{Message: err.Error(), Cause: ErrCauseTxFailed}
	}
	return jobID, nil
}

// MarkRunning flips a job's status to running.
func (s *Store) MarkRunning(jobID uint64) error {
	return s.updateJob(jobID, func(j *Job) { j.Status = StatusRunning })
}

// MarkFailed flips a job's status to failed and records the message. Per
// spec.md §7, this is the terminal state for StorageError/UnexpectedError.
func (s *Store) MarkFailed(jobID uint64, message string) error {
	return s.updateJob(jobID, func(j *Job) {
		j.Status = StatusFailed
		j.FailureMessage = message
	})
}

func (s *Store) updateJob(jobID uint64, mutate func(*Job)) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(jobsBucket)
		var job Job
		raw := bucket.Get(itob(jobID))
		if raw == nil {
			return ErrJobNotFound
		}
		if err := json.Unmarshal(raw, &job); err != nil {
			return err
		}
		mutate(&job)
		return putJSON(bucket, itob(jobID), job)
	})
	if err != nil {
		return err
	}
	return nil
}

// StoreCrawl writes every page row, upserts the single metrics row for
// jobID, and flips the job to completed, all inside one bbolt transaction.
// A reader who observes status=completed is guaranteed to also observe
// both the pages and the metrics (spec.md §8 invariant 8).
func (s *Store) StoreCrawl(jobID uint64, targetDomain string, pages []extractor.Page, metrics graph.Metrics) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		jobs := tx.Bucket(jobsBucket)
		var job Job
		raw := jobs.Get(itob(jobID))
		if raw == nil {
			return ErrJobNotFound
		}
		if err := json.Unmarshal(raw, &job); err != nil {
			return err
		}

		pagesBkt := tx.Bucket(pagesBucket)
		for i, p := range pages {
			record := pageRecordFrom(jobID, uint64(i), p)
			if err := putJSON(pagesBkt, pageKey(jobID, uint64(i)), record); err != nil {
				return err
			}
		}

		metricsBkt := tx.Bucket(metricsBucket)
		record := metricsRecordFrom(jobID, targetDomain, metrics, time.Now())
		if err := putJSON(metricsBkt, itob(jobID), record); err != nil {
			return err
		}

		job.Status = StatusCompleted
		return putJSON(jobs, itob(jobID), job)
	})
	if err != nil {
		return &StoreError{Message: err.Error(), Cause: ErrCauseTxFailed}
	}
	return nil
}

// PagesForJob returns every page row persisted for jobID, in storage order.
func (s *Store) PagesForJob(jobID uint64) ([]PageRecord, error) {
	var records []PageRecord
	prefix := itob(jobID)

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(pagesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var record PageRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Cause: ErrCauseDecodeFailed}
	}
	return records, nil
}

// LatestReport returns the most recent completed job's metrics for
// targetDomain, ordered by updated_at descending, per spec.md §4.7.
func (s *Store) LatestReport(targetDomain string) (MetricsRecord, error) {
	var candidates []MetricsRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metricsBucket).ForEach(func(_, v []byte) error {
			var record MetricsRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.TargetDomain == targetDomain {
				candidates = append(candidates, record)
			}
			return nil
		})
	})
	if err != nil {
		return MetricsRecord{}, &StoreError{Message: err.Error(), Cause: ErrCauseDecodeFailed}
	}
	if len(candidates) == 0 {
		return MetricsRecord{}, ErrNoCompletedJob
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	return candidates[0], nil
}

// IngestReferrers records external referrer URLs for domain, merging with
// any previously ingested set, to be used as seeds by a future /crawl.
// This promotes the source's stubbed ingest-referrers endpoint to full
// persistence, resolving spec.md §9 Open Question (a).
func (s *Store) IngestReferrers(domain string, urls []string) (int, error) {
	var total int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(referrerSeedsBucket)
		key := []byte(domain)

		existing := map[string]struct{}{}
		if raw := bucket.Get(key); raw != nil {
			var current []string
			if err := json.Unmarshal(raw, &current); err != nil {
				return err
			}
			for _, u := range current {
				existing[u] = struct{}{}
			}
		}
		for _, u := range urls {
			existing[u] = struct{}{}
		}

		merged := make([]string, 0, len(existing))
		for u := range existing {
			merged = append(merged, u)
		}
		sort.Strings(merged)
		total = len(merged)

		return putJSON(bucket, key, merged)
	})
	if err != nil {
		return 0, &StoreError{Message: err.Error(), Cause: ErrCauseTxFailed}
	}
	return total, nil
}

// ReferrerSeeds returns every referrer URL ingested for domain.
func (s *Store) ReferrerSeeds(domain string) ([]string, error) {
	var urls []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(referrerSeedsBucket).Get([]byte(domain))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &urls)
	})
	if err != nil {
		return nil, &StoreError{Message: err.Error(), Cause: ErrCauseDecodeFailed}
	}
	return urls, nil
}

func putJSON(bucket *bbolt.Bucket, key []byte, v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.Put(key, encoded)
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func pageKey(jobID, index uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], jobID)
	binary.BigEndian.PutUint64(key[8:], index)
	return key
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
