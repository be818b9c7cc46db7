// Package store implements spec.md §1's "opaque transactional key/value
// interface" backing the Run/Publication/Proposal/Package state: a
// single-file embedded database, transactional per operation, with no
// relational query surface exposed to callers.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/threatcode/janitor/pkg/model"
)

var (
	bucketPackages     = []byte("packages")
	bucketRuns         = []byte("runs")
	bucketPublications = []byte("publications")
	bucketProposals    = []byte("proposals")
)

// ErrPublicationExists is returned by PutPublication when a successful
// Publication already exists for the same deduplication tuple (spec.md §3
// invariant ii).
var ErrPublicationExists = errors.New("a successful publication already exists for this tuple")

// ErrNotFound is returned by single-item lookups that find nothing.
var ErrNotFound = errors.New("not found")

// DB is the opaque transactional store, backed by bbolt.
type DB struct {
	bolt *bbolt.DB
}

// Open creates (or reuses) the database file at path and ensures every
// bucket this package needs exists.
func Open(path string) (*DB, error) {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPackages, bucketRuns, bucketPublications, bucketProposals} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("initializing buckets: %w", err)
	}
	return &DB{bolt: bdb}, nil
}

func (d *DB) Close() error { return d.bolt.Close() }

// PutPackage upserts a Package row, keyed by name.
func (d *DB) PutPackage(pkg model.Package) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketPackages), []byte(pkg.Name), pkg)
	})
}

// GetPackage looks up a Package by name.
func (d *DB) GetPackage(name string) (model.Package, error) {
	var pkg model.Package
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketPackages), []byte(name), &pkg)
	})
	return pkg, err
}

// ListPackages returns every known Package.
func (d *DB) ListPackages() ([]model.Package, error) {
	var out []model.Package
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPackages).ForEach(func(_, v []byte) error {
			var pkg model.Package
			if err := json.Unmarshal(v, &pkg); err != nil {
				return err
			}
			out = append(out, pkg)
			return nil
		})
	})
	return out, err
}

// PutRun stores an immutable Run record, keyed by its id. Runs are written
// once, at close time, by the Worker Runtime.
func (d *DB) PutRun(run model.Run) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketRuns), []byte(run.ID), run)
	})
}

// GetRun looks up a Run by id.
func (d *DB) GetRun(id string) (model.Run, error) {
	var run model.Run
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketRuns), []byte(id), &run)
	})
	return run, err
}

// ListRuns returns every stored Run, in no particular order. Used by the
// worker CLI's local history store to back `janitor-worker status`.
func (d *DB) ListRuns() ([]model.Run, error) {
	var out []model.Run
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run model.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			out = append(out, run)
			return nil
		})
	})
	return out, err
}

// ListPublishReadyRuns returns every Run whose result code is
// publish-ready (spec.md §3 invariant i, via model.IsPublishReady), for the
// publisher's publish_pending driver loop.
func (d *DB) ListPublishReadyRuns() ([]model.Run, error) {
	var out []model.Run
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run model.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if model.IsPublishReady(run.Result) {
				out = append(out, run)
			}
			return nil
		})
	})
	return out, err
}

// LatestRunFor returns the most recently finished Run for (pkg, campaign),
// used by the reconciler to decide whether a newer successful run
// supersedes an open proposal (spec.md §4.5).
func (d *DB) LatestRunFor(pkg, campaign string) (model.Run, error) {
	var latest model.Run
	found := false
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run model.Run
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.Package != pkg || run.Campaign != campaign {
				return nil
			}
			if !found || run.FinishTime.After(latest.FinishTime) {
				latest = run
				found = true
			}
			return nil
		})
	})
	if err != nil {
		return model.Run{}, err
	}
	if !found {
		return model.Run{}, ErrNotFound
	}
	return latest, nil
}

// publicationStorageKey builds the append-only storage key for a Publication:
// runID, then a monotonically increasing timestamp suffix, so repeated
// attempts against the same Run never collide.
func publicationStorageKey(p model.Publication) []byte {
	return []byte(p.RunID + "\x00" + strconv.FormatInt(p.Timestamp.UnixNano(), 10))
}

// PutPublication appends a Publication row. If a prior Publication with a
// successful outcome already exists for the same deduplication tuple
// (spec.md §3 invariant ii), it refuses with ErrPublicationExists so the
// driver loop can short-circuit instead of reattempting.
func (d *DB) PutPublication(pub model.Publication) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPublications)
		existing, err := existingSuccessfulPublication(b, pub.Key())
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrPublicationExists
		}
		return putJSON(b, publicationStorageKey(pub), pub)
	})
}

// ExistingPublication reports whether a successful Publication already
// exists for key, implementing the lookup side of invariant (ii).
func (d *DB) ExistingPublication(key model.PublicationKey) (model.Publication, bool, error) {
	var found *model.Publication
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		var err error
		found, err = existingSuccessfulPublication(tx.Bucket(bucketPublications), key)
		return err
	})
	if err != nil {
		return model.Publication{}, false, err
	}
	if found == nil {
		return model.Publication{}, false, nil
	}
	return *found, true, nil
}

func existingSuccessfulPublication(b *bbolt.Bucket, key model.PublicationKey) (*model.Publication, error) {
	var found *model.Publication
	err := b.ForEach(func(_, v []byte) error {
		var pub model.Publication
		if err := json.Unmarshal(v, &pub); err != nil {
			return err
		}
		if pub.Outcome != model.SuccessOutcome {
			return nil
		}
		if pub.Key() != key {
			return nil
		}
		cp := pub
		found = &cp
		return nil
	})
	return found, err
}

// ListPublicationsForRun returns every Publication attempt recorded
// against run, oldest first.
func (d *DB) ListPublicationsForRun(runID string) ([]model.Publication, error) {
	var out []model.Publication
	prefix := []byte(runID + "\x00")
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketPublications).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var pub model.Publication
			if err := json.Unmarshal(v, &pub); err != nil {
				return err
			}
			out = append(out, pub)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, err
}

// PutProposal upserts a Proposal, keyed by its URL (its identity).
func (d *DB) PutProposal(p model.Proposal) error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(bucketProposals), []byte(p.URL), p)
	})
}

// GetProposal looks up a Proposal by URL.
func (d *DB) GetProposal(url string) (model.Proposal, error) {
	var p model.Proposal
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(bucketProposals), []byte(url), &p)
	})
	return p, err
}

// ListProposalsByStatus returns every Proposal in the given status, for the
// reconciler's per-hoster walk (spec.md §4.5).
func (d *DB) ListProposalsByStatus(status model.ProposalStatus) ([]model.Proposal, error) {
	var out []model.Proposal
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProposals).ForEach(func(_, v []byte) error {
			var p model.Proposal
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Status == status {
				out = append(out, p)
			}
			return nil
		})
	})
	return out, err
}

// FindProposalForPackageCampaign returns the stored Proposal for
// (pkg, campaign), if any, used by the control plane to report whether an
// on-demand publish opened a brand new proposal or updated one that
// already existed.
func (d *DB) FindProposalForPackageCampaign(pkg, campaign string) (model.Proposal, bool, error) {
	var found *model.Proposal
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProposals).ForEach(func(_, v []byte) error {
			var p model.Proposal
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Package == pkg && p.Campaign == campaign {
				cp := p
				found = &cp
			}
			return nil
		})
	})
	if err != nil {
		return model.Proposal{}, false, err
	}
	if found == nil {
		return model.Proposal{}, false, nil
	}
	return *found, true, nil
}

// OpenCountsByMaintainer computes the per-maintainer count of open
// proposals, satisfying invariant (iv) in spec.md §3: the reconciler uses
// this to seed the rate limiter before the publisher runs.
func (d *DB) OpenCountsByMaintainer() (map[string]int, error) {
	counts := make(map[string]int)
	err := d.bolt.View(func(tx *bbolt.Tx) error {
		proposals := tx.Bucket(bucketProposals)
		packages := tx.Bucket(bucketPackages)
		return proposals.ForEach(func(_, v []byte) error {
			var p model.Proposal
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.Status != model.ProposalOpen {
				return nil
			}
			raw := packages.Get([]byte(p.Package))
			if raw == nil {
				return nil
			}
			var pkg model.Package
			if err := json.Unmarshal(raw, &pkg); err != nil {
				return err
			}
			counts[pkg.Maintainer]++
			return nil
		})
	})
	return counts, err
}

func putJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.Put(key, data)
}

func getJSON(b *bbolt.Bucket, key []byte, v interface{}) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}
