package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"
)

type OpsType byte

const (
	STREAM_CREATE OpsType = iota
	POINT_ADD
	STREAM_DELETE
	// WATERMARK carries the highest stream and point ids ever issued.
	WATERMARK
)

func (op OpsType) String() string {
	switch op {
	case STREAM_CREATE:
		return "STREAM_CREATE"
	case POINT_ADD:
		return "POINT_ADD"
	case STREAM_DELETE:
		return "STREAM_DELETE"
	case WATERMARK:
		return "WATERMARK"
	default:
		return fmt.Sprintf("OpsType(%d)", byte(op))
	}
}

func (op OpsType) Valid() bool {
	return op <= WATERMARK
}

// Mutation is one journal record. Key is the owning stream id (8 bytes,
// big-endian); Value is the JSON payload for the op.
type Mutation struct {
	Sequence uint64
	Op       OpsType
	Key      []byte
	Value    []byte
}

type Stream struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

type Point struct {
	ID        int64   `json:"id"`
	StreamID  int64   `json:"streamId"`
	ParentID  *int64  `json:"parentId"`
	ItemID    *string `json:"itemId"`
	BranchNum int     `json:"branchNum"`
	Depth     int     `json:"depth"`
}

func (p Point) IsRoot() bool {
	return p.ParentID == nil
}

// Watermark is the id high-water mark persisted by journals that cannot
// replay full history.
type Watermark struct {
	StreamID int64 `json:"streamId"`
	PointID  int64 `json:"pointId"`
}

type streamCreated struct {
	Stream Stream `json:"stream"`
	Root   Point  `json:"root"`
}

func StreamKey(streamID int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(streamID))
	return buf[:]
}

func (m Mutation) StreamID() (int64, error) {
	if len(m.Key) != 8 {
		return 0, fmt.Errorf("%s: stream key is %d bytes, want 8", m.Op, len(m.Key))
	}
	return int64(binary.BigEndian.Uint64(m.Key)), nil
}

func NewStreamCreated(s Stream, root Point) (Mutation, error) {
	v, err := json.Marshal(streamCreated{Stream: s, Root: root})
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Op: STREAM_CREATE, Key: StreamKey(s.ID), Value: v}, nil
}

func NewPointAdded(p Point) (Mutation, error) {
	v, err := json.Marshal(p)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Op: POINT_ADD, Key: StreamKey(p.StreamID), Value: v}, nil
}

func NewStreamDeleted(streamID int64) Mutation {
	return Mutation{Op: STREAM_DELETE, Key: StreamKey(streamID)}
}

func NewWatermark(w Watermark) (Mutation, error) {
	v, err := json.Marshal(w)
	if err != nil {
		return Mutation{}, err
	}
	return Mutation{Op: WATERMARK, Value: v}, nil
}

func (m Mutation) DecodeStreamCreated() (Stream, Point, error) {
	if m.Op != STREAM_CREATE {
		return Stream{}, Point{}, fmt.Errorf("decode stream: unexpected op %s", m.Op)
	}
	var sc streamCreated
	if err := json.Unmarshal(m.Value, &sc); err != nil {
		return Stream{}, Point{}, fmt.Errorf("decode stream: %w", err)
	}
	return sc.Stream, sc.Root, nil
}

func (m Mutation) DecodePoint() (Point, error) {
	if m.Op != POINT_ADD {
		return Point{}, fmt.Errorf("decode point: unexpected op %s", m.Op)
	}
	var p Point
	if err := json.Unmarshal(m.Value, &p); err != nil {
		return Point{}, fmt.Errorf("decode point: %w", err)
	}
	return p, nil
}

func (m Mutation) DecodeWatermark() (Watermark, error) {
	if m.Op != WATERMARK {
		return Watermark{}, fmt.Errorf("decode watermark: unexpected op %s", m.Op)
	}
	var w Watermark
	if err := json.Unmarshal(m.Value, &w); err != nil {
		return Watermark{}, fmt.Errorf("decode watermark: %w", err)
	}
	return w, nil
}
