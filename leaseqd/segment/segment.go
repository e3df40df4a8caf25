// Package segment is a reference BackendQueue (spec §6.1 leaves the
// storage format entirely to the implementer). It lays out messages as a
// sequence of size-capped, rotated segment files, the same convention
// nsqio/go-diskqueue uses for its own append-only log — extended here
// with a per-id index, since a lease queue needs random reads by id where
// go-diskqueue only ever needs sequential FIFO reads.
package segment

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/leaseq/leaseq/internal/lg"
	"github.com/leaseq/leaseq/leaseqd"
)

// record layout on disk: [8-byte id][4-byte clock][4-byte compressed len][compressed payload]
const recordHeaderSize = 8 + 4 + 4

type fileEntry struct {
	minID, maxID leaseqd.MessageID
	path         string
	size         int64
}

// index maps a live id to the (file, offset) pair holding its record.
type index struct {
	byID map[leaseqd.MessageID]indexEntry
}

type indexEntry struct {
	fileIndex int
	offset    int64
}

// Backend is the reference on-disk implementation of leaseqd.BackendQueue.
// All public methods are safe for concurrent use; Push is additionally
// expected to be externally serialized by the owning Queue's write lock,
// matching go-diskqueue's single-writer assumption.
type Backend struct {
	mu sync.RWMutex

	name    string
	dataDir string

	maxBytesPerFile int64
	syncEvery       int64
	syncTimeout     time.Duration

	files    []*fileEntry
	writeIdx int
	writeOff int64
	writeF   *os.File
	writeBuf *bufio.Writer

	nextID leaseqd.MessageID
	idx    index

	totalWrites     int64
	writesSinceSync int64

	exitCh   chan struct{}
	exitOnce sync.Once

	logger   lg.Logger
	logLevel lg.LogLevel
}

// Open creates or recovers a Backend rooted at dataDir. If recover is
// true, existing segment files are scanned to rebuild the id index and
// resume the write cursor. If recover is false, any segment files already
// in dataDir are erased first — a fresh queue never resurrects a prior
// queue's log or id sequence just because its data directory was reused —
// matching the original's remove_dir_if_exist + create_dir_if_not_exist
// in Queue::new. syncEvery forces an fsync after that many Push calls;
// syncTimeout forces one at the end of every interval of that length in
// which at least one Push happened, the same two knobs go-diskqueue exposes.
func Open(name, dataDir string, maxBytesPerFile, syncEvery int64, syncTimeout time.Duration, recover bool, logger lg.Logger, logLevel lg.LogLevel) (*Backend, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	if syncEvery <= 0 {
		syncEvery = 2500
	}
	if syncTimeout <= 0 {
		syncTimeout = 2 * time.Second
	}

	b := &Backend{
		name:            name,
		dataDir:         dataDir,
		maxBytesPerFile: maxBytesPerFile,
		syncEvery:       syncEvery,
		syncTimeout:     syncTimeout,
		nextID:          1,
		idx:             index{byID: make(map[leaseqd.MessageID]indexEntry)},
		exitCh:          make(chan struct{}),
		logger:          logger,
		logLevel:        logLevel,
	}

	if !recover {
		if err := b.eraseExisting(); err != nil {
			return nil, err
		}
		if err := b.rollWriteFile(); err != nil {
			return nil, err
		}
		go b.syncLoop()
		return b, nil
	}

	existing, err := b.listSegmentFiles()
	if err != nil {
		return nil, err
	}

	if len(existing) == 0 {
		if err := b.rollWriteFile(); err != nil {
			return nil, err
		}
		go b.syncLoop()
		return b, nil
	}

	if err := b.recoverFrom(existing); err != nil {
		return nil, err
	}
	go b.syncLoop()
	return b, nil
}

// eraseExisting removes any segment files already in dataDir, for the
// recover=false path: a queue created fresh must not resume a prior
// occupant's log or id sequence.
func (b *Backend) eraseExisting() error {
	matches, err := b.listSegmentFiles()
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// syncLoop flushes and fsyncs the write file every syncTimeout if any Push
// happened since the previous tick, so a lightly-loaded queue still bounds
// its exposure to an unsynced write on crash. Heavily-loaded queues also
// hit the syncEvery write-count threshold inside Push itself.
func (b *Backend) syncLoop() {
	ticker := time.NewTicker(b.syncTimeout)
	defer ticker.Stop()
	var lastSynced int64
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if b.totalWrites != lastSynced && b.writeF != nil {
				b.writeBuf.Flush()
				b.writeF.Sync()
				b.writesSinceSync = 0
			}
			lastSynced = b.totalWrites
			b.mu.Unlock()
		case <-b.exitCh:
			return
		}
	}
}

func (b *Backend) segmentPath(n int) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("%s.segment.%06d.dat", b.name, n))
}

func (b *Backend) listSegmentFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(b.dataDir, b.name+".segment.*.dat"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (b *Backend) recoverFrom(paths []string) error {
	for n, path := range paths {
		entry := &fileEntry{path: path}
		f, err := os.Open(path)
		if err != nil {
			return err
		}

		var offset int64
		first := true
		for {
			id, clock, payload, recordLen, err := readRecord(f)
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("segment: recovering %s at offset %d: %w", path, offset, err)
			}
			_ = clock
			if first {
				entry.minID = id
				first = false
			}
			entry.maxID = id
			b.idx.byID[id] = indexEntry{fileIndex: n, offset: offset}
			offset += recordLen
			if id >= b.nextID {
				b.nextID = id + 1
			}
			_ = payload
		}
		entry.size = offset
		f.Close()
		b.files = append(b.files, entry)
	}

	b.writeIdx = len(b.files) - 1
	last := b.files[b.writeIdx]
	b.writeOff = last.size

	f, err := os.OpenFile(last.path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	b.writeF = f
	b.writeBuf = bufio.NewWriter(f)

	if b.writeOff >= b.maxBytesPerFile {
		return b.rollWriteFile()
	}
	return nil
}

func (b *Backend) rollWriteFile() error {
	if b.writeF != nil {
		if err := b.writeBuf.Flush(); err != nil {
			return err
		}
		if err := b.writeF.Sync(); err != nil {
			return err
		}
		if err := b.writeF.Close(); err != nil {
			return err
		}
	}

	// Number the new file after the newest existing one, not by count: GC
	// may have removed older files, and reusing a kept file's number would
	// truncate a live segment.
	n := len(b.files)
	if n > 0 {
		var last int
		base := strings.TrimPrefix(filepath.Base(b.files[n-1].path), b.name+".segment.")
		if _, err := fmt.Sscanf(base, "%d.dat", &last); err == nil {
			n = last + 1
		}
	}
	path := b.segmentPath(n)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	b.files = append(b.files, &fileEntry{path: path})
	b.writeIdx = len(b.files) - 1
	b.writeOff = 0
	b.writeF = f
	b.writeBuf = bufio.NewWriter(f)
	return nil
}

func readRecord(r io.Reader) (id leaseqd.MessageID, clock uint32, payload []byte, recordLen int64, err error) {
	header := make([]byte, recordHeaderSize)
	if _, err = io.ReadFull(r, header); err != nil {
		return
	}
	id = leaseqd.MessageID(binary.BigEndian.Uint64(header[0:8]))
	clock = binary.BigEndian.Uint32(header[8:12])
	compLen := binary.BigEndian.Uint32(header[12:16])

	compressed := make([]byte, compLen)
	if _, err = io.ReadFull(r, compressed); err != nil {
		return
	}
	payload, err = snappy.Decode(nil, compressed)
	if err != nil {
		return
	}
	recordLen = int64(recordHeaderSize) + int64(compLen)
	return
}

// Push implements leaseqd.BackendQueue.
func (b *Backend) Push(clock uint32, payload []byte) (leaseqd.MessageID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	compressed := snappy.Encode(nil, payload)

	header := make([]byte, recordHeaderSize)
	id := b.nextID
	binary.BigEndian.PutUint64(header[0:8], uint64(id))
	binary.BigEndian.PutUint32(header[8:12], clock)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(compressed)))

	if _, err := b.writeBuf.Write(header); err != nil {
		return 0, err
	}
	if _, err := b.writeBuf.Write(compressed); err != nil {
		return 0, err
	}

	entry := b.files[b.writeIdx]
	if entry.minID == 0 {
		entry.minID = id
	}
	entry.maxID = id
	b.idx.byID[id] = indexEntry{fileIndex: b.writeIdx, offset: b.writeOff}

	recordLen := int64(recordHeaderSize + len(compressed))
	b.writeOff += recordLen
	entry.size = b.writeOff
	b.nextID++

	b.totalWrites++
	b.writesSinceSync++
	if b.writesSinceSync >= b.syncEvery {
		b.writesSinceSync = 0
		if err := b.writeBuf.Flush(); err != nil {
			return 0, err
		}
		if err := b.writeF.Sync(); err != nil {
			return 0, err
		}
	} else if err := b.writeBuf.Flush(); err != nil {
		return 0, err
	}

	if b.writeOff >= b.maxBytesPerFile {
		if err := b.rollWriteFile(); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// Get implements leaseqd.BackendQueue with a direct seek via the id
// index, rather than go-diskqueue's sequential-only read cursor.
func (b *Backend) Get(id leaseqd.MessageID) (*leaseqd.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	loc, ok := b.idx.byID[id]
	if !ok {
		return nil, false
	}
	entry := b.files[loc.fileIndex]

	f, err := os.Open(entry.path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	if _, err := f.Seek(loc.offset, io.SeekStart); err != nil {
		return nil, false
	}
	gotID, clock, payload, _, err := readRecord(f)
	if err != nil || gotID != id {
		return nil, false
	}
	return &leaseqd.Message{ID: gotID, Body: payload, Timestamp: clock}, true
}

func (b *Backend) Tail() leaseqd.MessageID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextID
}

// GC drops every fully-retired segment file: one whose maxID is below
// smallestLive. The currently open write segment is never eligible.
func (b *Backend) GC(smallestLive leaseqd.MessageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var kept []*fileEntry
	for n, entry := range b.files {
		if n == b.writeIdx || entry.maxID >= smallestLive || entry.maxID == 0 {
			kept = append(kept, entry)
			continue
		}
		for id, loc := range b.idx.byID {
			if loc.fileIndex == n {
				delete(b.idx.byID, id)
			}
		}
		if err := os.Remove(entry.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		lg.Logf(b.logger, b.logLevel, lg.INFO, "segment: removed retired file %s", entry.path)
	}

	b.reindexAfterGC(kept)
	return nil
}

// reindexAfterGC rebuilds file indices after retirement shrinks the
// slice, since GC may remove files from the middle of b.files.
func (b *Backend) reindexAfterGC(kept []*fileEntry) {
	remap := make(map[int]int, len(kept))
	oldFiles := b.files
	newWriteIdx := -1
	for newN, entry := range kept {
		for oldN, old := range oldFiles {
			if old == entry {
				remap[oldN] = newN
				if oldN == b.writeIdx {
					newWriteIdx = newN
				}
				break
			}
		}
	}
	for id, loc := range b.idx.byID {
		b.idx.byID[id] = indexEntry{fileIndex: remap[loc.fileIndex], offset: loc.offset}
	}
	b.files = kept
	if newWriteIdx >= 0 {
		b.writeIdx = newWriteIdx
	}
}

// Purge removes every segment file and resets the id counter to 1,
// matching spec §5.4's requirement that a purged queue's ids restart.
func (b *Backend) Purge() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.closeWriteFileLocked(); err != nil {
		return err
	}
	for _, entry := range b.files {
		if err := os.Remove(entry.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	b.files = nil
	b.idx.byID = make(map[leaseqd.MessageID]indexEntry)
	b.nextID = 1
	return b.rollWriteFile()
}

// Delete removes all segment files and leaves the backend unusable.
func (b *Backend) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.closeWriteFileLocked(); err != nil {
		return err
	}
	for _, entry := range b.files {
		if err := os.Remove(entry.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	b.files = nil
	b.idx.byID = make(map[leaseqd.MessageID]indexEntry)
	return nil
}

func (b *Backend) closeWriteFileLocked() error {
	if b.writeF == nil {
		return nil
	}
	if err := b.writeBuf.Flush(); err != nil {
		return err
	}
	if err := b.writeF.Close(); err != nil {
		return err
	}
	b.writeF = nil
	b.writeBuf = nil
	return nil
}

func (b *Backend) Checkpoint(full bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeBuf == nil {
		return nil
	}
	if err := b.writeBuf.Flush(); err != nil {
		return err
	}
	if full {
		return b.writeF.Sync()
	}
	return nil
}

func (b *Backend) FilesCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.files)
}

func (b *Backend) Close() error {
	b.exitOnce.Do(func() { close(b.exitCh) })
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeWriteFileLocked()
}
