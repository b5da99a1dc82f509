package sqlitekv

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"syscall"

	intfs "github.com/otterkv/otterkv/internal/fs"
	"github.com/otterkv/otterkv/pkg/kv"
)

const (
	journalMagic      = "OKVWAL01"
	journalFooterSize = 32
)

var journalCRC32C = crc32.MakeTable(crc32.Castagnoli)

// ErrJournalCorrupt reports a committed journal whose checksum does not
// match its body, which should never happen on a healthy filesystem.
var ErrJournalCorrupt = errors.New("sqlitekv: journal corrupt")

// ErrJournalReplay reports a structurally invalid journal entry found
// during recovery.
var ErrJournalReplay = errors.New("sqlitekv: journal replay")

// journalOpKind mirrors [kv.OpKind] as a JSON-friendly string so the
// on-disk format is self-describing.
type journalOpKind string

const (
	journalOpSet        journalOpKind = "set"
	journalOpClear      journalOpKind = "clear"
	journalOpClearRange journalOpKind = "clearRange"
)

// journalOp is one JSONL line in the journal body. encoding/json encodes
// []byte fields as base64, so arbitrary key/value bytes round-trip safely.
type journalOp struct {
	Op    journalOpKind `json:"op"`
	Key   []byte        `json:"key"`
	Value []byte        `json:"value,omitempty"`
	End   []byte        `json:"end,omitempty"`
}

func opsToJournal(ops []kv.WriteOp) ([]journalOp, error) {
	out := make([]journalOp, len(ops))

	for i, op := range ops {
		var kind journalOpKind

		switch op.Kind {
		case kv.OpSet:
			kind = journalOpSet
		case kv.OpClear:
			kind = journalOpClear
		case kv.OpClearRange:
			kind = journalOpClearRange
		default:
			return nil, fmt.Errorf("sqlitekv: unknown write op kind %d", op.Kind)
		}

		out[i] = journalOp{Op: kind, Key: op.Key, Value: op.Value, End: op.End}
	}

	return out, nil
}

func journalToOps(ops []journalOp) []kv.WriteOp {
	out := make([]kv.WriteOp, len(ops))

	for i, op := range ops {
		var kind kv.OpKind

		switch op.Op {
		case journalOpSet:
			kind = kv.OpSet
		case journalOpClear:
			kind = kv.OpClear
		case journalOpClearRange:
			kind = kv.OpClearRange
		}

		out[i] = kv.WriteOp{Kind: kind, Key: op.Key, Value: op.Value, End: op.End}
	}

	return out
}

// journalState describes what recovery found in the journal file.
type journalState uint8

const (
	journalEmpty       journalState = iota // no data at all
	journalUncommitted                     // data present but no valid footer
	journalCommitted                       // valid footer and checksum
)

// writeJournal encodes ops as a JSONL body, appends the CRC footer, and
// fsyncs — the transaction's durable commit point. Grounded on the
// teacher's internal/store/tx.go writeWAL: overwrite-in-place rather than
// temp+rename, because this file IS the durability log.
func writeJournal(file intfs.File, ops []journalOp) error {
	var body bytes.Buffer

	enc := json.NewEncoder(&body)
	for _, op := range ops {
		if err := enc.Encode(op); err != nil {
			return fmt.Errorf("sqlitekv: encode journal op: %w", err)
		}
	}

	bodyBytes := body.Bytes()
	footer := encodeJournalFooter(bodyBytes)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("sqlitekv: seek journal: %w", err)
	}

	if _, err := file.Write(bodyBytes); err != nil {
		return fmt.Errorf("sqlitekv: write journal body: %w", err)
	}

	if _, err := file.Write(footer); err != nil {
		return fmt.Errorf("sqlitekv: write journal footer: %w", err)
	}

	totalSize := int64(len(bodyBytes) + len(footer))
	if err := syscall.Ftruncate(int(file.Fd()), totalSize); err != nil {
		return fmt.Errorf("sqlitekv: truncate journal to size: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("sqlitekv: fsync journal: %w", err)
	}

	return nil
}

// truncateJournal clears the journal and fsyncs, used both to discard an
// uncommitted journal and to retire a committed one after replay.
func truncateJournal(file intfs.File) error {
	if err := syscall.Ftruncate(int(file.Fd()), 0); err != nil {
		return fmt.Errorf("sqlitekv: truncate journal: %w", err)
	}

	return file.Sync()
}

// readJournalState inspects the footer and, for a committed journal,
// validates the checksum and returns the body bytes.
func readJournalState(file intfs.File) (journalState, []byte, error) {
	info, err := file.Stat()
	if err != nil {
		return journalEmpty, nil, fmt.Errorf("sqlitekv: stat journal: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return journalEmpty, nil, nil
	}

	if size < journalFooterSize {
		return journalUncommitted, nil, nil
	}

	footer := make([]byte, journalFooterSize)

	if _, err := file.Seek(size-journalFooterSize, io.SeekStart); err != nil {
		return journalEmpty, nil, fmt.Errorf("sqlitekv: seek journal footer: %w", err)
	}

	if _, err := io.ReadFull(file, footer); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return journalUncommitted, nil, nil
		}

		return journalEmpty, nil, fmt.Errorf("sqlitekv: read journal footer: %w", err)
	}

	if string(footer[:8]) != journalMagic {
		return journalUncommitted, nil, nil
	}

	bodyLen := binary.LittleEndian.Uint64(footer[8:16])

	bodyLenInv := binary.LittleEndian.Uint64(footer[16:24])
	if ^bodyLen != bodyLenInv {
		return journalUncommitted, nil, nil
	}

	crc := binary.LittleEndian.Uint32(footer[24:28])

	crcInv := binary.LittleEndian.Uint32(footer[28:32])
	if ^crc != crcInv {
		return journalUncommitted, nil, nil
	}

	if bodyLen > math.MaxInt64 || int64(bodyLen) > size-journalFooterSize {
		return journalUncommitted, nil, nil
	}

	body := make([]byte, bodyLen)

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return journalEmpty, nil, fmt.Errorf("sqlitekv: seek journal body: %w", err)
	}

	if _, err := io.ReadFull(file, body); err != nil {
		return journalEmpty, nil, fmt.Errorf("sqlitekv: read journal body: %w", err)
	}

	checksum := crc32.Checksum(body, journalCRC32C)
	if checksum != crc {
		return journalCommitted, nil, fmt.Errorf("sqlitekv: checksum mismatch (want %08x got %08x): %w", crc, checksum, ErrJournalCorrupt)
	}

	return journalCommitted, body, nil
}

func encodeJournalFooter(body []byte) []byte {
	footer := make([]byte, journalFooterSize)
	copy(footer[:8], journalMagic)

	bodyLen := uint64(len(body))
	binary.LittleEndian.PutUint64(footer[8:16], bodyLen)
	binary.LittleEndian.PutUint64(footer[16:24], ^bodyLen)

	crc := crc32.Checksum(body, journalCRC32C)
	binary.LittleEndian.PutUint32(footer[24:28], crc)
	binary.LittleEndian.PutUint32(footer[28:32], ^crc)

	return footer
}

// decodeJournalOps parses the JSONL body into validated operations.
func decodeJournalOps(body []byte) ([]journalOp, error) {
	reader := bufio.NewReader(bytes.NewReader(body))
	ops := make([]journalOp, 0)

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 && readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return nil, fmt.Errorf("sqlitekv: read journal line: %w", readErr)
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var op journalOp

			if err := json.Unmarshal(trimmed, &op); err != nil {
				return nil, fmt.Errorf("sqlitekv: parse journal line: %w: %w", ErrJournalReplay, err)
			}

			switch op.Op {
			case journalOpSet, journalOpClear, journalOpClearRange:
			default:
				return nil, fmt.Errorf("sqlitekv: unknown journal op %q: %w", op.Op, ErrJournalReplay)
			}

			ops = append(ops, op)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	return ops, nil
}
