package logtailer

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sevenDatabase/controltower/internal/reader"
	"github.com/sevenDatabase/controltower/internal/status"
	"github.com/sevenDatabase/controltower/internal/topicuuid"
	"github.com/sevenDatabase/controltower/internal/wire"
)

// entry layout on disk, one per record:
// seqno:u64 | namespace:u16 | nameLen:u16 | name | payloadLen:u32 | crc32:u32 | payload
//
// FileTailer keeps no index; every read scans from the start of the file
// and skips entries below the requested seqno. This is adequate for the log sizes exercised by tests
// and small standalone deployments, not for a production log store.

// Config governs one FileTailer instance.
type Config struct {
	Dir string
	// RetentionRecords caps how many records FileTailer admits remembering
	// per log before it reports the oldest ones lost via a DataLoss gap.
	// 0 means unlimited.
	RetentionRecords int
	// PollInterval controls how often a tail goroutine checks for newly
	// appended records once it has caught up to the log's current end.
	PollInterval time.Duration
}

type logFile struct {
	mu        sync.Mutex
	f         *os.File
	w         *bufio.Writer
	nextSeqno topicuuid.SeqNo
	startSeqno topicuuid.SeqNo // oldest seqno not yet retired by retention
	sessions  map[reader.ID]context.CancelFunc
}

// FileTailer is a file-backed, per-log append log with CRC-checked
// records and a resumable tail cursor.
type FileTailer struct {
	cfg  Config
	sink Sink

	mu    sync.Mutex
	files map[topicuuid.LogID]*logFile
}

// New returns a FileTailer rooted at cfg.Dir, delivering records and gaps
// to sink.
func New(cfg Config, sink Sink) *FileTailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	return &FileTailer{
		cfg:   cfg,
		sink:  sink,
		files: make(map[topicuuid.LogID]*logFile),
	}
}

func (t *FileTailer) path(log topicuuid.LogID) string {
	return filepath.Join(t.cfg.Dir, fmt.Sprintf("log-%d.tailer", uint64(log)))
}

func (t *FileTailer) open(log topicuuid.LogID) (*logFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lf, ok := t.files[log]; ok {
		return lf, nil
	}
	if err := os.MkdirAll(t.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logtailer: create dir: %w", err)
	}
	f, err := os.OpenFile(t.path(log), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logtailer: open log file: %w", err)
	}
	lf := &logFile{f: f, sessions: make(map[reader.ID]context.CancelFunc)}
	lf.startSeqno = 1
	last, err := scanLastSeqno(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	lf.nextSeqno = last + 1
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("logtailer: seek end: %w", err)
	}
	lf.w = bufio.NewWriterSize(f, 64*1024)
	t.files[log] = lf
	return lf, nil
}

func scanLastSeqno(f *os.File) (topicuuid.SeqNo, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	r := bufio.NewReader(f)
	var last topicuuid.SeqNo
	for {
		_, seqno, _, _, err := readEntry(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return 0, err
		}
		last = seqno
	}
	return last, nil
}

func writeEntry(w *bufio.Writer, seqno topicuuid.SeqNo, topic topicuuid.UUID, payload []byte) error {
	var head [12]byte
	binary.LittleEndian.PutUint64(head[0:8], uint64(seqno))
	binary.LittleEndian.PutUint16(head[8:10], topic.Namespace)
	binary.LittleEndian.PutUint16(head[10:12], uint16(len(topic.Name)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.WriteString(topic.Name); err != nil {
		return err
	}
	var plen [8]byte
	binary.LittleEndian.PutUint32(plen[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(plen[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(plen[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readEntry(r *bufio.Reader) (topicuuid.UUID, topicuuid.SeqNo, []byte, int, error) {
	head := make([]byte, 12)
	if _, err := io.ReadFull(r, head); err != nil {
		return topicuuid.UUID{}, 0, nil, 0, err
	}
	seqno := topicuuid.SeqNo(binary.LittleEndian.Uint64(head[0:8]))
	ns := binary.LittleEndian.Uint16(head[8:10])
	nameLen := binary.LittleEndian.Uint16(head[10:12])
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return topicuuid.UUID{}, 0, nil, 0, io.ErrUnexpectedEOF
	}
	plen := make([]byte, 8)
	if _, err := io.ReadFull(r, plen); err != nil {
		return topicuuid.UUID{}, 0, nil, 0, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(plen[0:4])
	crc := binary.LittleEndian.Uint32(plen[4:8])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return topicuuid.UUID{}, 0, nil, 0, io.ErrUnexpectedEOF
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return topicuuid.UUID{}, 0, nil, 0, fmt.Errorf("logtailer: crc mismatch at seqno %d", seqno)
	}
	total := 12 + len(name) + 8 + len(payload)
	return topicuuid.New(ns, string(name)), seqno, payload, total, nil
}

// Append assigns the next seqno on log for topic and writes payload,
// evicting the oldest retained record if RetentionRecords is exceeded.
func (t *FileTailer) Append(log topicuuid.LogID, topic topicuuid.UUID, payload []byte) (topicuuid.SeqNo, error) {
	lf, err := t.open(log)
	if err != nil {
		return 0, err
	}
	lf.mu.Lock()
	defer lf.mu.Unlock()
	seqno := lf.nextSeqno
	if err := writeEntry(lf.w, seqno, topic, payload); err != nil {
		return 0, fmt.Errorf("logtailer: append: %w", err)
	}
	if err := lf.w.Flush(); err != nil {
		return 0, fmt.Errorf("logtailer: flush: %w", err)
	}
	lf.nextSeqno = seqno + 1
	if t.cfg.RetentionRecords > 0 {
		retained := int64(lf.nextSeqno) - int64(lf.startSeqno)
		if retained > int64(t.cfg.RetentionRecords) {
			lf.startSeqno = lf.nextSeqno - topicuuid.SeqNo(t.cfg.RetentionRecords)
		}
	}
	return seqno, nil
}

// StartReading opens a tail goroutine for rdr on log, starting at seqno.
// If seqno has already been retired by retention, the goroutine emits a
// DataLoss gap covering the retired range before resuming from the
// retained start.
func (t *FileTailer) StartReading(log topicuuid.LogID, seqno topicuuid.SeqNo, rdr reader.ID, firstOpen bool) status.Status {
	lf, err := t.open(log)
	if err != nil {
		return status.New(status.InternalError, err.Error())
	}
	lf.mu.Lock()
	if cancel, ok := lf.sessions[rdr]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	lf.sessions[rdr] = cancel
	lf.mu.Unlock()

	go t.tailLoop(ctx, log, lf, seqno, rdr)
	return status.OKStatus
}

// StopReading cancels rdr's tail goroutine on log.
func (t *FileTailer) StopReading(log topicuuid.LogID, rdr reader.ID) status.Status {
	t.mu.Lock()
	lf, ok := t.files[log]
	t.mu.Unlock()
	if !ok {
		return status.New(status.InternalError, "StopReading on unopened log")
	}
	lf.mu.Lock()
	cancel, ok := lf.sessions[rdr]
	delete(lf.sessions, rdr)
	lf.mu.Unlock()
	if !ok {
		return status.New(status.InternalError, "StopReading on unknown reader")
	}
	cancel()
	return status.OKStatus
}

// FindLatestSeqno answers with the seqno the next Append on log will
// assign (1 for an empty log).
func (t *FileTailer) FindLatestSeqno(log topicuuid.LogID, callback func(status.Status, topicuuid.SeqNo)) {
	go func() {
		lf, err := t.open(log)
		if err != nil {
			callback(status.New(status.InternalError, err.Error()), 0)
			return
		}
		lf.mu.Lock()
		tail := lf.nextSeqno
		lf.mu.Unlock()
		callback(status.OKStatus, tail)
	}()
}

// CanSubscribePastEnd always returns true: appends always extend the log,
// so a reader may legally request the next not-yet-written seqno.
func (t *FileTailer) CanSubscribePastEnd() bool { return true }

func (t *FileTailer) tailLoop(ctx context.Context, log topicuuid.LogID, lf *logFile, from topicuuid.SeqNo, rdr reader.ID) {
	lf.mu.Lock()
	if from < lf.startSeqno {
		gapFrom, gapTo := from, lf.startSeqno-1
		lf.mu.Unlock()
		if gapTo >= gapFrom {
			t.sink.SendGapRecord(log, wire.GapDataLoss, gapFrom, gapTo, rdr)
		}
		from = lf.startSeqno
	} else {
		lf.mu.Unlock()
	}

	f, err := os.Open(t.path(log))
	if err != nil {
		slog.Error("logtailer: reopen for tail", slog.Uint64("log_id", uint64(log)), slog.Any("error", err))
		return
	}
	defer f.Close()
	r := bufio.NewReader(f)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	skipping := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		topic, seqno, payload, _, err := readEntry(r)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			continue
		}
		if skipping {
			if seqno < from {
				continue
			}
			skipping = false
		}
		t.sink.SendLogRecord(log, seqno, topic, payload, rdr)
	}
}

// Close releases all open file handles.
func (t *FileTailer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, lf := range t.files {
		lf.mu.Lock()
		for _, cancel := range lf.sessions {
			cancel()
		}
		if err := lf.w.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := lf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		lf.mu.Unlock()
	}
	return firstErr
}
