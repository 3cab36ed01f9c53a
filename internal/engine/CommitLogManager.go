package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"branchdown/internal/model"
	"branchdown/internal/storage"

	"go.uber.org/zap"
)

type CommitLogFlusher struct {
	active_segment *os.File
	seq_number     uint64
	buffer         bytes.Buffer
	maxBufferBytes int
	syncEachWrite  bool
	// durableBytes is the file offset past the last record known to be synced.
	durableBytes int64
	// failed is sticky: after a failed flush nothing more is written.
	failed error
}

type CommitLogChanelMsg struct {
	mut                 model.Mutation
	data_bufferred_done chan error
}

type CommitLogCfg struct {
	Path                 string
	EnqueueTimeout       time.Duration
	FlushInterval        time.Duration
	MaxEnqueuingMutation int
	BufferBytes          int
	// SyncOnAppend flushes and fsyncs before Append returns.
	SyncOnAppend bool
	Logger       *zap.Logger
}

/*
Channel-backed append flow keeps a single writer goroutine in charge of the WAL:
- Ordering: channel preserves request order; single goroutine owns the file handle and the sequence.
- Backpressure: bounded channel + timeout lets callers fail fast instead of unbounded queueing.
- Durability handshake: per-request done channel lets callers wait for accept/flush/fsync.
- Shutdown: queued mutations are drained and flushed before the file is closed.
*/
type CommitLogManager struct {
	flusher                   CommitLogFlusher
	commitlog_writter_channel chan CommitLogChanelMsg
	cfg                       CommitLogCfg
	flushT                    *time.Ticker
	log                       *zap.Logger
	cancel                    context.CancelFunc
	done                      chan struct{}
}

const (
	payloadLenBytes                = 4
	checksumBytes                  = 4
	seqNumBytes                    = 8
	opTypeBytes                    = 1
	lenFieldSize                   = 4
	defaultCommitLogBufferBytes    = 4 * 1024 * 1024
	minimalCommitLogBufferBytes    = 128
	defaultMaxEnqueuingMutationVal = 1024
	defaultEnqueueTimeout          = time.Second
	defaultFlushInterval           = time.Second
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var ErrCommitLogClosed = errors.New("commit log is closed")

// NewCommitLogManager opens (or creates) the log at cfg.Path, truncates a torn
// tail left by a crash, and starts the writer goroutine. Cancelling ctx or
// calling the returned cancel func flushes and closes the log.
func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg) (*CommitLogManager, context.CancelFunc, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	validEnd, lastSeq, err := scanCommitLog(cfg.Path, nil, log)
	if err != nil {
		return nil, nil, err
	}
	size, err := storage.Size(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	if size > validEnd {
		log.Warn("truncating torn commit log tail",
			zap.String("path", cfg.Path), zap.Int64("valid_bytes", validEnd), zap.Int64("file_bytes", size))
		if err := os.Truncate(cfg.Path, validEnd); err != nil {
			return nil, nil, fmt.Errorf("truncate commit log: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	bufferBytes := cfg.BufferBytes
	if bufferBytes <= 0 {
		bufferBytes = defaultCommitLogBufferBytes
	}
	if bufferBytes < minimalCommitLogBufferBytes {
		bufferBytes = minimalCommitLogBufferBytes
	}
	maxQueue := cfg.MaxEnqueuingMutation
	if maxQueue <= 0 {
		maxQueue = defaultMaxEnqueuingMutationVal
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	nextSeq := uint64(0)
	if validEnd > 0 {
		nextSeq = lastSeq + 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	m := &CommitLogManager{
		cfg:                       cfg,
		commitlog_writter_channel: make(chan CommitLogChanelMsg, maxQueue),
		flushT:                    time.NewTicker(cfg.FlushInterval),
		log:                       log,
		cancel:                    cancel,
		done:                      make(chan struct{}),
		flusher: CommitLogFlusher{
			active_segment: f,
			seq_number:     nextSeq,
			maxBufferBytes: bufferBytes,
			syncEachWrite:  cfg.SyncOnAppend,
			durableBytes:   validEnd,
		},
	}

	go func() {
		defer close(m.done)
		m.run(runCtx)
		m.flushT.Stop()
		if err := m.flusher.active_segment.Close(); err != nil {
			m.log.Error("commit log close failed", zap.Error(err))
		}
	}()
	return m, cancel, nil
}

// Append hands the mutation to the writer goroutine, which assigns its
// sequence number, and waits until it is buffered (or synced, with SyncOnAppend).
func (cm *CommitLogManager) Append(mut model.Mutation) error {
	channelMsg := CommitLogChanelMsg{mut: mut, data_bufferred_done: make(chan error, 1)}
	timer := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case cm.commitlog_writter_channel <- channelMsg:
	case <-cm.done:
		return ErrCommitLogClosed
	case <-timer.C:
		return fmt.Errorf("timeout after %s waiting for mutation to be added to commit log", cm.cfg.EnqueueTimeout)
	}

	select {
	case err := <-channelMsg.data_bufferred_done:
		return err
	case <-cm.done:
		// The writer drains the queue before exiting, so a result may still be waiting.
		select {
		case err := <-channelMsg.data_bufferred_done:
			return err
		default:
			return ErrCommitLogClosed
		}
	}
}

// Load reads the whole commit log and returns its mutations in order.
// It stops at the first corrupted or truncated record (crash-safe boundary).
func (cm *CommitLogManager) Load() ([]model.Mutation, error) {
	mutations := make([]model.Mutation, 0)
	_, _, err := scanCommitLog(cm.cfg.Path, func(mut model.Mutation) {
		mutations = append(mutations, mut)
	}, cm.log)
	if err != nil {
		return nil, err
	}
	cm.log.Info("loaded mutations from commit log", zap.Int("mutations", len(mutations)), zap.String("path", cm.cfg.Path))
	return mutations, nil
}

// Close stops the writer goroutine and waits for the final flush.
func (cm *CommitLogManager) Close() error {
	cm.cancel()
	<-cm.done
	return nil
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case channelMsg := <-cm.commitlog_writter_channel:
			channelMsg.data_bufferred_done <- cm.flusher.append(channelMsg.mut)
		case <-cm.flushT.C:
			if cm.flusher.failed != nil {
				continue
			}
			if err := cm.flusher.flush(); err != nil {
				cm.log.Error("commit log periodic flush failed", zap.Error(err))
			}
		case <-ctx.Done():
			cm.log.Info("commit log manager shutting down, flushing active segment")
		drain:
			for {
				select {
				case channelMsg := <-cm.commitlog_writter_channel:
					channelMsg.data_bufferred_done <- cm.flusher.append(channelMsg.mut)
				default:
					break drain
				}
			}
			if err := cm.flusher.flush(); err != nil {
				cm.log.Error("commit log shutdown flush failed", zap.Error(err))
			}
			return
		}
	}
}

// append assigns the next sequence number only once the record is accepted:
// buffered, or synced when syncEachWrite is set. A rejected record is never
// written later.
func (flusher *CommitLogFlusher) append(mut model.Mutation) error {
	if flusher.failed != nil {
		return flusher.failed
	}
	mut.Sequence = flusher.seq_number
	if err := flusher.write(encodeMutation(mut)); err != nil {
		return err
	}
	if flusher.syncEachWrite {
		if err := flusher.flush(); err != nil {
			return err
		}
	}
	flusher.seq_number++
	return nil
}

func (flusher *CommitLogFlusher) write(data []byte) error {
	if flusher.active_segment == nil {
		return errors.New("no active segment")
	}
	if len(data) > flusher.maxBufferBytes {
		return fmt.Errorf("commit log entry (%d bytes) exceeds buffer size (%d bytes)", len(data), flusher.maxBufferBytes)
	}
	if flusher.buffer.Len()+len(data) > flusher.maxBufferBytes {
		if err := flusher.flush(); err != nil {
			return err
		}
	}
	_, err := flusher.buffer.Write(data)
	return err
}

func (flusher *CommitLogFlusher) flush() error {
	if flusher.failed != nil {
		return flusher.failed
	}
	if flusher.active_segment == nil {
		return errors.New("no active segment")
	}
	if flusher.buffer.Len() == 0 {
		return nil
	}
	pending := int64(flusher.buffer.Len())
	err := storage.Write(flusher.active_segment, flusher.buffer.Bytes())
	if err == nil {
		err = flusher.active_segment.Sync()
	}
	if err != nil {
		flusher.fail(err)
		return flusher.failed
	}
	flusher.durableBytes += pending
	flusher.buffer.Reset()
	return nil
}

// fail drops the unsynced buffer, cuts any partial write off the file so the
// log still ends on a record boundary, and refuses every later append.
func (flusher *CommitLogFlusher) fail(err error) {
	flusher.buffer.Reset()
	failed := fmt.Errorf("commit log flush failed: %w", err)
	if terr := flusher.active_segment.Truncate(flusher.durableBytes); terr != nil {
		failed = errors.Join(failed, fmt.Errorf("truncate to %d: %w", flusher.durableBytes, terr))
	}
	flusher.failed = failed
}

// scanCommitLog walks the records at path, calling fn for each valid one. It
// returns the offset just past the last valid record and that record's sequence.
func scanCommitLog(path string, fn func(model.Mutation), log *zap.Logger) (int64, uint64, error) {
	readFile, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("open commit log for reading: %w", err)
	}
	defer readFile.Close()

	fileInfo, err := readFile.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat commit log: %w", err)
	}
	fileSize := fileInfo.Size()

	var offset int64
	var lastSeq uint64
	recordNum := 0
	for offset < fileSize {
		header, err := storage.Read(readFile, offset, payloadLenBytes+checksumBytes)
		if err != nil {
			return 0, 0, err
		}
		if len(header) < payloadLenBytes+checksumBytes {
			log.Warn("commit log truncated in record header", zap.Int("record", recordNum), zap.Int64("offset", offset))
			break
		}
		payloadLen := binary.BigEndian.Uint32(header[:payloadLenBytes])
		expectedChecksum := binary.BigEndian.Uint32(header[payloadLenBytes:])

		payloadStart := offset + payloadLenBytes + checksumBytes
		if payloadStart+int64(payloadLen) > fileSize {
			log.Warn("commit log truncated in payload",
				zap.Int("record", recordNum), zap.Int64("offset", payloadStart), zap.Uint32("expected_bytes", payloadLen))
			break
		}
		payload, err := storage.Read(readFile, payloadStart, int(payloadLen))
		if err != nil {
			return 0, 0, err
		}

		if actual := crc32.Checksum(payload, castagnoli); actual != expectedChecksum {
			log.Warn("commit log CRC mismatch, stopping at corruption boundary",
				zap.Int("record", recordNum), zap.Uint32("expected", expectedChecksum), zap.Uint32("actual", actual))
			break
		}

		mut, err := decodePayload(payload)
		if err != nil {
			log.Warn("commit log record undecodable, stopping", zap.Int("record", recordNum), zap.Error(err))
			break
		}
		if fn != nil {
			fn(mut)
		}
		lastSeq = mut.Sequence
		offset = payloadStart + int64(payloadLen)
		recordNum++
	}
	return offset, lastSeq, nil
}

/*
Return encoded mutation record for Commit Log. The following table describes the structure of encoded mutation record.

| PayloadLength | CRC32C | Sequence | OpType | KeyLen | Key      | ValueLen | Value    |
|--------------|--------|----------|--------|--------|----------|----------|----------|
| 4 bytes      | 4 bytes| 8 bytes  | 1 byte | 4 bytes| K bytes  | 4 bytes  | V bytes  |

The CRC32C covers the payload (Sequence through Value).
*/
func encodeMutation(mut model.Mutation) []byte {
	payload := make([]byte, 0, seqNumBytes+opTypeBytes+lenFieldSize+len(mut.Key)+lenFieldSize+len(mut.Value))
	payload = binary.BigEndian.AppendUint64(payload, mut.Sequence)
	payload = append(payload, byte(mut.Op))
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.Key)))
	payload = append(payload, mut.Key...)
	payload = binary.BigEndian.AppendUint32(payload, uint32(len(mut.Value)))
	payload = append(payload, mut.Value...)

	record := make([]byte, 0, payloadLenBytes+checksumBytes+len(payload))
	record = binary.BigEndian.AppendUint32(record, uint32(len(payload)))
	record = binary.BigEndian.AppendUint32(record, crc32.Checksum(payload, castagnoli))
	return append(record, payload...)
}

// decodePayload extracts a Mutation from the payload portion of a record,
// preserving its original sequence number.
func decodePayload(payload []byte) (model.Mutation, error) {
	minSize := seqNumBytes + opTypeBytes + lenFieldSize + lenFieldSize
	if len(payload) < minSize {
		return model.Mutation{}, fmt.Errorf("payload too short: %d bytes (minimum %d)", len(payload), minSize)
	}

	pos := 0
	seqNum := binary.BigEndian.Uint64(payload[pos : pos+seqNumBytes])
	pos += seqNumBytes

	opType := model.OpsType(payload[pos])
	if !opType.Valid() {
		return model.Mutation{}, fmt.Errorf("invalid operation type: %d", opType)
	}
	pos += opTypeBytes

	keyLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize])
	pos += lenFieldSize
	if pos+int(keyLen) > len(payload) {
		return model.Mutation{}, fmt.Errorf("key length (%d) exceeds payload bounds", keyLen)
	}
	key := make([]byte, keyLen)
	copy(key, payload[pos:pos+int(keyLen)])
	pos += int(keyLen)

	if pos+lenFieldSize > len(payload) {
		return model.Mutation{}, fmt.Errorf("value length field exceeds payload bounds")
	}
	valueLen := binary.BigEndian.Uint32(payload[pos : pos+lenFieldSize])
	pos += lenFieldSize
	if pos+int(valueLen) > len(payload) {
		return model.Mutation{}, fmt.Errorf("value length (%d) exceeds payload bounds", valueLen)
	}

	var value []byte
	if valueLen > 0 {
		value = make([]byte, valueLen)
		copy(value, payload[pos:pos+int(valueLen)])
	}

	return model.Mutation{
		Sequence: seqNum,
		Op:       opType,
		Key:      key,
		Value:    value,
	}, nil
}
