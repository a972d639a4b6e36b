package checkpointlog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kvarch/checkpoint/pkg/primitives"
)

// header is written before every record's payload: [size:4][classID:4][version:1].
func writeHeader(buf *bytes.Buffer, classID int32, version byte, payloadLen int) error {
	total := 4 + 4 + 1 + payloadLen
	if err := binary.Write(buf, binary.BigEndian, uint32(total)); err != nil {
		return fmt.Errorf("failed to write record size: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, classID); err != nil {
		return fmt.Errorf("failed to write class id: %w", err)
	}
	if err := binary.Write(buf, binary.BigEndian, version); err != nil {
		return fmt.Errorf("failed to write version: %w", err)
	}
	return nil
}

// PeekHeader reads the (class id, version) of a serialized record without
// fully decoding it, the way a ClassID table lets a reader dispatch on
// category+version (spec.md §4.7 "Record version selection").
func PeekHeader(data []byte) (classID int32, version byte, err error) {
	if len(data) < 9 {
		return 0, 0, fmt.Errorf("checkpointlog: record too short to contain a header")
	}
	classID = int32(binary.BigEndian.Uint32(data[4:8]))
	version = data[8]
	return classID, version, nil
}

// SerializeSystemCheckpoint encodes the v1 SystemCheckpoint payload in the
// order spec.md §6 specifies: finishTs(8) previousTs(8) synchronized(1)
// terminated(1) metaUnavailable(1) n(4) n*{dbId(4) recoveryStart(8)} m(4)
// m*{XID(16) decision(4)}.
func SerializeSystemCheckpoint(rec *SystemCheckpointRecord) ([]byte, error) {
	var payload bytes.Buffer

	fields := []any{
		int64(rec.FinishTs),
		int64(rec.PreviousTs),
		boolByte(rec.Synchronized),
		boolByte(rec.Terminated),
		boolByte(rec.MetaUnavailable),
	}
	for _, f := range fields {
		if err := binary.Write(&payload, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("failed to write system checkpoint header: %w", err)
		}
	}

	if err := binary.Write(&payload, binary.BigEndian, uint32(len(rec.UnavailableDatabases))); err != nil {
		return nil, fmt.Errorf("failed to write unavailable-database count: %w", err)
	}
	for db, ts := range rec.UnavailableDatabases {
		if err := binary.Write(&payload, binary.BigEndian, uint32(db)); err != nil {
			return nil, fmt.Errorf("failed to write unavailable database id: %w", err)
		}
		if err := binary.Write(&payload, binary.BigEndian, int64(ts)); err != nil {
			return nil, fmt.Errorf("failed to write unavailable database recovery start: %w", err)
		}
	}

	if err := binary.Write(&payload, binary.BigEndian, uint32(len(rec.HeuristicallyCompletedBranches))); err != nil {
		return nil, fmt.Errorf("failed to write branch count: %w", err)
	}
	for _, b := range rec.HeuristicallyCompletedBranches {
		raw := [16]byte(b.XID)
		if _, err := payload.Write(raw[:]); err != nil {
			return nil, fmt.Errorf("failed to write branch xid: %w", err)
		}
		if err := binary.Write(&payload, binary.BigEndian, int32(b.Decision)); err != nil {
			return nil, fmt.Errorf("failed to write branch decision: %w", err)
		}
	}

	return frame(ClassID(CategorySystemCheckpoint), 1, payload.Bytes())
}

// DeserializeSystemCheckpoint decodes a SystemCheckpoint payload.
func DeserializeSystemCheckpoint(data []byte) (*SystemCheckpointRecord, error) {
	classID, version, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if classID != ClassID(CategorySystemCheckpoint) {
		return nil, fmt.Errorf("checkpointlog: not a system checkpoint record (class id %d)", classID)
	}
	if version != 1 {
		return nil, fmt.Errorf("checkpointlog: unsupported system checkpoint version %d", version)
	}

	r := bytes.NewReader(data[9:])
	rec := &SystemCheckpointRecord{UnavailableDatabases: make(map[primitives.DatabaseID]primitives.Timestamp)}

	var finishTs, previousTs int64
	var synchronized, terminated, metaUnavailable byte
	for _, dst := range []any{&finishTs, &previousTs, &synchronized, &terminated, &metaUnavailable} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("failed to read system checkpoint header: %w", err)
		}
	}
	rec.FinishTs = primitives.Timestamp(finishTs)
	rec.PreviousTs = primitives.Timestamp(previousTs)
	rec.Synchronized = synchronized != 0
	rec.Terminated = terminated != 0
	rec.MetaUnavailable = metaUnavailable != 0

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read unavailable-database count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		var db uint32
		var ts int64
		if err := binary.Read(r, binary.BigEndian, &db); err != nil {
			return nil, fmt.Errorf("failed to read unavailable database id: %w", err)
		}
		if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
			return nil, fmt.Errorf("failed to read unavailable database recovery start: %w", err)
		}
		rec.UnavailableDatabases[primitives.DatabaseID(db)] = primitives.Timestamp(ts)
	}

	var m uint32
	if err := binary.Read(r, binary.BigEndian, &m); err != nil {
		return nil, fmt.Errorf("failed to read branch count: %w", err)
	}
	for i := uint32(0); i < m; i++ {
		var raw [16]byte
		if _, err := r.Read(raw[:]); err != nil {
			return nil, fmt.Errorf("failed to read branch xid: %w", err)
		}
		var decision int32
		if err := binary.Read(r, binary.BigEndian, &decision); err != nil {
			return nil, fmt.Errorf("failed to read branch decision: %w", err)
		}
		rec.HeuristicallyCompletedBranches = append(rec.HeuristicallyCompletedBranches, BranchDecision{
			XID:      primitives.XID(raw),
			Decision: primitives.Decision(decision),
		})
	}

	return rec, nil
}

// SerializeDatabaseCheckpoint encodes the v2 DatabaseCheckpoint payload in
// the exact order spec.md §6 specifies: finishTs previousTs synchronized
// n(4) [beginLSNs...n] [lastLSNs...n] [preparedXID...n] terminated(1). A
// transaction with no prepared branch writes the all-zero XID; the in-memory
// HasPrepared flag is reconstructed from that on read, so the on-disk shape
// stays bit-exact across versions without a presence byte.
func SerializeDatabaseCheckpoint(rec *DatabaseCheckpointRecord) ([]byte, error) {
	var payload bytes.Buffer

	for _, f := range []any{int64(rec.FinishTs), int64(rec.PreviousTs), boolByte(rec.Synchronized)} {
		if err := binary.Write(&payload, binary.BigEndian, f); err != nil {
			return nil, fmt.Errorf("failed to write database checkpoint header: %w", err)
		}
	}

	n := uint32(len(rec.InProgressTxns))
	if err := binary.Write(&payload, binary.BigEndian, n); err != nil {
		return nil, fmt.Errorf("failed to write in-progress-txn count: %w", err)
	}
	for _, txn := range rec.InProgressTxns {
		if err := binary.Write(&payload, binary.BigEndian, uint64(txn.BeginLSN)); err != nil {
			return nil, fmt.Errorf("failed to write beginLSN: %w", err)
		}
	}
	for _, txn := range rec.InProgressTxns {
		if err := binary.Write(&payload, binary.BigEndian, uint64(txn.LastLSN)); err != nil {
			return nil, fmt.Errorf("failed to write lastLSN: %w", err)
		}
	}
	for _, txn := range rec.InProgressTxns {
		var raw [16]byte
		if txn.HasPrepared {
			raw = [16]byte(txn.PreparedXID)
		}
		if _, err := payload.Write(raw[:]); err != nil {
			return nil, fmt.Errorf("failed to write prepared-xid: %w", err)
		}
	}

	if err := binary.Write(&payload, binary.BigEndian, boolByte(rec.Terminated)); err != nil {
		return nil, fmt.Errorf("failed to write terminated flag: %w", err)
	}

	return frame(ClassID(CategoryDatabaseCheckpoint), 2, payload.Bytes())
}

// DeserializeDatabaseCheckpoint decodes a DatabaseCheckpoint payload.
func DeserializeDatabaseCheckpoint(data []byte) (*DatabaseCheckpointRecord, error) {
	classID, version, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if classID != ClassID(CategoryDatabaseCheckpoint) {
		return nil, fmt.Errorf("checkpointlog: not a database checkpoint record (class id %d)", classID)
	}
	if version != 2 {
		return nil, fmt.Errorf("checkpointlog: unsupported database checkpoint version %d", version)
	}

	r := bytes.NewReader(data[9:])
	rec := &DatabaseCheckpointRecord{}

	var finishTs, previousTs int64
	var synchronized byte
	for _, dst := range []any{&finishTs, &previousTs, &synchronized} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("failed to read database checkpoint header: %w", err)
		}
	}
	rec.FinishTs = primitives.Timestamp(finishTs)
	rec.PreviousTs = primitives.Timestamp(previousTs)
	rec.Synchronized = synchronized != 0

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read in-progress-txn count: %w", err)
	}
	rec.InProgressTxns = make([]InProgressTransactionInfo, n)

	for i := range rec.InProgressTxns {
		var lsn uint64
		if err := binary.Read(r, binary.BigEndian, &lsn); err != nil {
			return nil, fmt.Errorf("failed to read beginLSN: %w", err)
		}
		rec.InProgressTxns[i].BeginLSN = primitives.LSN(lsn)
	}
	for i := range rec.InProgressTxns {
		var lsn uint64
		if err := binary.Read(r, binary.BigEndian, &lsn); err != nil {
			return nil, fmt.Errorf("failed to read lastLSN: %w", err)
		}
		rec.InProgressTxns[i].LastLSN = primitives.LSN(lsn)
	}
	var zero [16]byte
	for i := range rec.InProgressTxns {
		var raw [16]byte
		if _, err := r.Read(raw[:]); err != nil {
			return nil, fmt.Errorf("failed to read prepared-xid: %w", err)
		}
		rec.InProgressTxns[i].PreparedXID = primitives.XID(raw)
		rec.InProgressTxns[i].HasPrepared = raw != zero
	}

	var terminated byte
	if err := binary.Read(r, binary.BigEndian, &terminated); err != nil {
		return nil, fmt.Errorf("failed to read terminated flag: %w", err)
	}
	rec.Terminated = terminated != 0

	return rec, nil
}

// SerializeFileSynchronizeBegin encodes the (empty) begin record.
func SerializeFileSynchronizeBegin() ([]byte, error) {
	return frame(ClassID(CategoryFileSynchronizeBegin), 1, nil)
}

// DeserializeFileSynchronizeBegin validates and decodes a begin record.
func DeserializeFileSynchronizeBegin(data []byte) (*FileSynchronizeBeginRecord, error) {
	classID, _, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if classID != ClassID(CategoryFileSynchronizeBegin) {
		return nil, fmt.Errorf("checkpointlog: not a file-synchronize-begin record (class id %d)", classID)
	}
	return &FileSynchronizeBeginRecord{}, nil
}

// SerializeFileSynchronizeEnd encodes the end record.
func SerializeFileSynchronizeEnd(rec *FileSynchronizeEndRecord) ([]byte, error) {
	var payload bytes.Buffer
	if err := binary.Write(&payload, binary.BigEndian, boolByte(rec.Modified)); err != nil {
		return nil, fmt.Errorf("failed to write modified flag: %w", err)
	}
	return frame(ClassID(CategoryFileSynchronizeEnd), 1, payload.Bytes())
}

// DeserializeFileSynchronizeEnd decodes an end record.
func DeserializeFileSynchronizeEnd(data []byte) (*FileSynchronizeEndRecord, error) {
	classID, _, err := PeekHeader(data)
	if err != nil {
		return nil, err
	}
	if classID != ClassID(CategoryFileSynchronizeEnd) {
		return nil, fmt.Errorf("checkpointlog: not a file-synchronize-end record (class id %d)", classID)
	}
	var modified byte
	if err := binary.Read(bytes.NewReader(data[9:]), binary.BigEndian, &modified); err != nil {
		return nil, fmt.Errorf("failed to read modified flag: %w", err)
	}
	return &FileSynchronizeEndRecord{Modified: modified != 0}, nil
}

func frame(classID int32, version byte, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeHeader(&buf, classID, version, len(payload)); err != nil {
		return nil, err
	}
	if _, err := buf.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to write record payload: %w", err)
	}
	return buf.Bytes(), nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
