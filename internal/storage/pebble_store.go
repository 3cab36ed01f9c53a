package storage

import (
	"errors"
	"fmt"
	"sync"

	"branchdown/internal/model"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Key layout:
//
//	s/<stream>           STREAM_CREATE payload (stream record + root point)
//	p/<stream>/<point>   POINT_ADD payload
//	m/watermark          highest stream and point ids ever issued
//
// Ids are zero-padded to 20 digits so lexical order matches numeric order.
const (
	streamPrefix = "s/"
	pointPrefix  = "p/"
	watermarkKey = "m/watermark"
)

type PebbleStoreCfg struct {
	Path string
	// NoSync skips fsync on each applied batch.
	NoSync bool
	Logger *zap.Logger
}

// PebbleStore is a journal that keeps only the live state: one key per
// stream and one per point. Deleting a stream removes its keys, so Load
// returns a watermark record first to keep ids from being reissued.
type PebbleStore struct {
	db     *pebble.DB
	cfg    PebbleStoreCfg
	log    *zap.Logger
	mu     sync.Mutex
	marker model.Watermark
}

func OpenPebbleStore(cfg PebbleStoreCfg) (*PebbleStore, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(cfg.Path, &pebble.Options{})
	if err != nil {
		log.Error("pebble open failed", zap.String("path", cfg.Path), zap.Error(err))
		return nil, fmt.Errorf("open pebble at %s: %w", cfg.Path, err)
	}
	s := &PebbleStore{db: db, cfg: cfg, log: log}
	if err := s.readWatermark(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Append applies one mutation as a single atomic batch.
func (s *PebbleStore) Append(mut model.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("pebble store is closed")
	}

	streamID, err := mut.StreamID()
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	next := s.marker
	switch mut.Op {
	case model.STREAM_CREATE:
		_, root, err := mut.DecodeStreamCreated()
		if err != nil {
			return err
		}
		if err := batch.Set(streamKey(streamID), mut.Value, nil); err != nil {
			return err
		}
		next.StreamID = max(next.StreamID, streamID)
		next.PointID = max(next.PointID, root.ID)
	case model.POINT_ADD:
		p, err := mut.DecodePoint()
		if err != nil {
			return err
		}
		if err := batch.Set(pointKey(streamID, p.ID), mut.Value, nil); err != nil {
			return err
		}
		next.PointID = max(next.PointID, p.ID)
	case model.STREAM_DELETE:
		lo, hi := pointRange(streamID)
		if err := batch.DeleteRange(lo, hi, nil); err != nil {
			return err
		}
		if err := batch.Delete(streamKey(streamID), nil); err != nil {
			return err
		}
	default:
		return fmt.Errorf("pebble store: unsupported op %s", mut.Op)
	}

	if next != s.marker {
		wm, err := model.NewWatermark(next)
		if err != nil {
			return err
		}
		if err := batch.Set([]byte(watermarkKey), wm.Value, nil); err != nil {
			return err
		}
	}

	if err := s.db.Apply(batch, s.writeOpt()); err != nil {
		s.log.Error("pebble apply batch failed", zap.Stringer("op", mut.Op), zap.Int64("stream", streamID), zap.Error(err))
		return err
	}
	s.marker = next
	return nil
}

// Load rebuilds the mutation list: the watermark, then every stream followed
// by its points in id order.
func (s *PebbleStore) Load() ([]model.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("pebble store is closed")
	}

	mutations := make([]model.Mutation, 0)
	if s.marker != (model.Watermark{}) {
		wm, err := model.NewWatermark(s.marker)
		if err != nil {
			return nil, err
		}
		mutations = append(mutations, wm)
	}

	streams, err := s.scan([]byte(streamPrefix), prefixEnd([]byte(streamPrefix)))
	if err != nil {
		return nil, err
	}
	for _, value := range streams {
		created := model.Mutation{Op: model.STREAM_CREATE, Value: value}
		st, _, err := created.DecodeStreamCreated()
		if err != nil {
			return nil, err
		}
		created.Key = model.StreamKey(st.ID)
		mutations = append(mutations, created)

		lo, hi := pointRange(st.ID)
		points, err := s.scan(lo, hi)
		if err != nil {
			return nil, err
		}
		for _, pv := range points {
			mutations = append(mutations, model.Mutation{Op: model.POINT_ADD, Key: model.StreamKey(st.ID), Value: pv})
		}
	}

	s.log.Info("loaded mutations from pebble", zap.Int("mutations", len(mutations)), zap.Int("streams", len(streams)))
	return mutations, nil
}

func (s *PebbleStore) scan(lo, hi []byte) ([][]byte, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		out = append(out, v)
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return nil, err
	}
	return out, iter.Close()
}

func (s *PebbleStore) readWatermark() error {
	v, closer, err := s.db.Get([]byte(watermarkKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	defer closer.Close()
	w, err := model.Mutation{Op: model.WATERMARK, Value: v}.DecodeWatermark()
	if err != nil {
		return err
	}
	s.marker = w
	return nil
}

func (s *PebbleStore) writeOpt() *pebble.WriteOptions {
	if s.cfg.NoSync {
		return pebble.NoSync
	}
	return pebble.Sync
}

func streamKey(streamID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", streamPrefix, streamID))
}

func pointKey(streamID, pointID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", pointPrefix, streamID, pointID))
}

func pointRange(streamID int64) ([]byte, []byte) {
	lo := []byte(fmt.Sprintf("%s%020d/", pointPrefix, streamID))
	return lo, prefixEnd(lo)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	end[len(end)-1]++
	return end
}
