package acllog

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/clist"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"

	"aclrelay/types"
)

const (
	recordPrefix = "rec/"
	tailPrefix   = "tail/"
)

// Log is the append-only record of ACL mutations known to this node: locally
// originated records plus remote records that were applied here and still
// need relaying onward. It doubles as the gossip buffer that per-peer send
// routines walk, the same way a mempool feeds its broadcast routines.
//
// Every record is persisted before Append/AddRemote returns, so a restart
// resumes relaying from durable state and peers resync off their own acked
// watermarks.
type Log struct {
	nodeID types.NodeID

	mtx     sync.Mutex
	counter int64           // last locally assigned counter
	tails   types.Watermark // high counter per origin held in the log

	records    *clist.CList // of *LogRecord, arrival order
	recordsMap sync.Map     // types.RecordID -> *clist.CElement

	db     tmdb.DB
	logger log.Logger
}

// LogRecord is a mutation record inside the log together with the set of
// peers it was received from. A record is never relayed back to a recorded
// sender.
type LogRecord struct {
	record     types.MutationRecord
	receivedAt time.Time
	senders    sync.Map // peer send-routine id (uint16) -> struct{}
}

func (lr *LogRecord) Record() types.MutationRecord {
	return lr.record
}

// HasSender reports whether the record arrived over the link identified by
// peerID.
func (lr *LogRecord) HasSender(peerID uint16) bool {
	_, ok := lr.senders.Load(peerID)
	return ok
}

func (lr *LogRecord) markSender(peerID uint16) {
	lr.senders.Store(peerID, struct{}{})
}

// NewLog opens the log backed by db, reloading any persisted records. The
// local counter resumes from the persisted tail for nodeID.
func NewLog(nodeID types.NodeID, db tmdb.DB, logger log.Logger) (*Log, error) {
	l := &Log{
		nodeID:  nodeID,
		tails:   types.NewWatermark(),
		records: clist.New(),
		db:      db,
		logger:  logger,
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	l.counter = l.tails.Get(nodeID)
	return l, nil
}

// NewKVLog opens a leveldb-backed log under dir.
func NewKVLog(nodeID types.NodeID, name, dir string, logger log.Logger) (*Log, error) {
	db, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewLog(nodeID, db, logger)
}

// NewMemLog returns a memory-backed log for tests.
func NewMemLog(nodeID types.NodeID, logger log.Logger) *Log {
	l, err := NewLog(nodeID, memdb.NewDB(), logger)
	if err != nil {
		panic(err) // MemDB reload cannot fail
	}
	return l
}

func (l *Log) SetLogger(logger log.Logger) {
	l.logger = logger
}

// NodeID returns the origin id stamped on locally appended records.
func (l *Log) NodeID() types.NodeID {
	return l.nodeID
}

// Append assigns the next local counter to a mutation of key and adds the
// record to the log. It persists the record before returning and never
// touches the network. A persistence error means the mutation was not
// accepted; the caller must treat it as fatal.
func (l *Log) Append(key types.EntryKey, permission types.Permission) (types.MutationRecord, error) {
	if err := key.ValidateBasic(); err != nil {
		return types.MutationRecord{}, err
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	record := types.MutationRecord{
		Key:        key,
		Permission: permission,
		Version: types.Version{
			Origin:  l.nodeID,
			Counter: l.counter + 1,
		},
		TimestampHint: time.Now().UTC(),
	}

	if err := l.persist(record); err != nil {
		return types.MutationRecord{}, err
	}

	l.counter++
	l.tails.Observe(l.nodeID, l.counter)
	l.push(&LogRecord{record: record, receivedAt: time.Now()})

	l.logger.Debug("appended local mutation", "record", record)
	return record, nil
}

// AddRemote adds an applied remote record for onward relay, marking senderID
// as its immediate sender. If the record is already present only the sender
// mark is added. Returns true when the record was newly added.
func (l *Log) AddRemote(record types.MutationRecord, senderID uint16) (bool, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if e, ok := l.recordsMap.Load(record.ID()); ok {
		e.(*clist.CElement).Value.(*LogRecord).markSender(senderID)
		return false, nil
	}

	if err := l.persist(record); err != nil {
		return false, err
	}

	l.tails.Observe(record.Origin(), record.Version.Counter)
	lr := &LogRecord{record: record, receivedAt: time.Now()}
	lr.markSender(senderID)
	l.push(lr)
	return true, nil
}

// MarkSender records senderID as a sender of an already held record, so the
// send routine for that link skips it. Every receipt of a known record must
// go through here, whatever rejected it, or the record echoes back to its
// sender. No-op when the record is no longer in the log.
func (l *Log) MarkSender(id types.RecordID, senderID uint16) {
	if e, ok := l.recordsMap.Load(id); ok {
		e.(*clist.CElement).Value.(*LogRecord).markSender(senderID)
	}
}

// Since returns the records not covered by the given watermark, in log
// order. The result is a snapshot: calling again with the same watermark
// after new appends yields those too, so backlog computation is restartable
// from any acked offset.
func (l *Log) Since(w types.Watermark) []types.MutationRecord {
	var out []types.MutationRecord
	for e := l.records.Front(); e != nil; e = e.Next() {
		record := e.Value.(*LogRecord).record
		if !w.Covers(record.Version) {
			out = append(out, record)
		}
	}
	return out
}

// Tails returns the highest counter per origin held in the log. Convergence
// is measured against this.
func (l *Log) Tails() types.Watermark {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.tails.Copy()
}

// Front returns the first element of the relay buffer, nil when empty.
func (l *Log) Front() *clist.CElement {
	return l.records.Front()
}

// WaitChan returns a channel closed when the relay buffer becomes non-empty.
func (l *Log) WaitChan() <-chan struct{} {
	return l.records.WaitChan()
}

func (l *Log) Size() int {
	return l.records.Len()
}

// PruneCovered drops records that every known peer has acknowledged (acked
// covers them) as well as records older than the retention horizon. Pruning
// never lowers Tails, so watermark bookkeeping survives GC.
func (l *Log) PruneCovered(acked types.Watermark, horizon time.Duration) int {
	now := time.Now()
	pruned := 0
	for e := l.records.Front(); e != nil; e = e.Next() {
		lr := e.Value.(*LogRecord)
		covered := acked.Covers(lr.record.Version)
		expired := horizon > 0 && now.Sub(lr.receivedAt) > horizon
		if !covered && !expired {
			continue
		}

		l.records.Remove(e)
		e.DetachPrev()
		l.recordsMap.Delete(lr.record.ID())
		if err := l.db.Delete(recordKey(lr.record)); err != nil {
			l.logger.Error("failed to delete pruned record", "record", lr.record, "err", err)
		}
		pruned++
	}
	if pruned > 0 {
		l.logger.Debug("pruned relay log", "count", pruned, "remaining", l.records.Len())
	}
	return pruned
}

// caller holds l.mtx
func (l *Log) push(lr *LogRecord) {
	e := l.records.PushBack(lr)
	l.recordsMap.Store(lr.record.ID(), e)
}

// caller holds l.mtx
func (l *Log) persist(record types.MutationRecord) error {
	raw, err := tmjson.Marshal(record)
	if err != nil {
		return err
	}

	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(recordKey(record), raw); err != nil {
		return err
	}
	// a late out-of-order record must not regress the persisted tail
	if record.Version.Counter > l.tails.Get(record.Origin()) {
		if err := batch.Set(tailKey(record.Origin()), counterBytes(record.Version.Counter)); err != nil {
			return err
		}
	}
	return batch.WriteSync()
}

func (l *Log) reload() error {
	itr, err := l.db.Iterator([]byte(recordPrefix), []byte(recordPrefix+"\xff"))
	if err != nil {
		return err
	}
	defer itr.Close()

	n := 0
	for ; itr.Valid(); itr.Next() {
		var record types.MutationRecord
		if err := tmjson.Unmarshal(itr.Value(), &record); err != nil {
			return err
		}
		l.tails.Observe(record.Origin(), record.Version.Counter)
		l.push(&LogRecord{record: record, receivedAt: time.Now()})
		n++
	}
	if err := itr.Error(); err != nil {
		return err
	}

	// tails persisted separately survive record pruning
	titr, err := l.db.Iterator([]byte(tailPrefix), []byte(tailPrefix+"\xff"))
	if err != nil {
		return err
	}
	defer titr.Close()
	for ; titr.Valid(); titr.Next() {
		origin := types.NodeID(titr.Key()[len(tailPrefix):])
		c, err := counterFromBytes(titr.Value())
		if err != nil {
			return fmt.Errorf("corrupt tail for origin %s: %w", origin, err)
		}
		l.tails.Observe(origin, c)
	}
	if err := titr.Error(); err != nil {
		return err
	}

	if n > 0 {
		l.logger.Info("reloaded relay log", "records", n, "tails", l.tails)
	}
	return nil
}

func recordKey(record types.MutationRecord) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", recordPrefix, record.Origin(), record.Version.Counter))
}

func tailKey(origin types.NodeID) []byte {
	return []byte(tailPrefix + string(origin))
}

func counterBytes(c int64) []byte {
	return []byte(fmt.Sprintf("%020d", c))
}

func counterFromBytes(raw []byte) (int64, error) {
	return strconv.ParseInt(string(raw), 10, 64)
}
