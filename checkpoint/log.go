package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/kwip/internal/fs"
)

// Log is the tab-separated record store.
type Log struct {
	mu         sync.Mutex
	fsys       fs.FileSystem
	path       string
	file       fs.File
	bw         *bufio.Writer
	durability Durability
	line       []byte
	err        error
}

// OpenLog opens the log at path for appending. A missing, empty or
// truncated log starts with the banner line.
func OpenLog(path string, optFns ...func(o *Options)) (*Log, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}

	flag := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if opts.Truncate {
		flag |= os.O_TRUNC
	} else if err := repairTail(opts.FS, path); err != nil {
		return nil, err
	}
	file, err := opts.FS.OpenFile(path, flag, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat checkpoint log: %w", err)
	}

	l := &Log{
		fsys:       opts.FS,
		path:       path,
		file:       file,
		bw:         bufio.NewWriter(file),
		durability: opts.Durability,
	}

	if st.Size() == 0 && opts.Banner != "" {
		l.bw.WriteString("# ")
		l.bw.WriteString(opts.Banner)
		l.bw.WriteByte('\n')
		if err := l.bw.Flush(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write checkpoint banner: %w", err)
		}
	}
	return l, nil
}

// repairTail cuts a final line left without its newline by a crash, so
// new records start on a line of their own.
func repairTail(fsys fs.FileSystem, path string) error {
	data, err := fs.ReadFile(fsys, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read checkpoint log: %w", err)
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if keep == len(data) {
		return nil
	}
	if err := fsys.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("repair checkpoint log: %w", err)
	}
	return nil
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Append writes rec as one line. A failed write poisons the log; every
// later call returns the same error.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	if err := errors.Join(ValidateName(rec.A), ValidateName(rec.B)); err != nil {
		return err
	}

	l.line = appendRecord(l.line[:0], rec)
	if _, err := l.bw.Write(l.line); err != nil {
		l.err = fmt.Errorf("append checkpoint: %w", err)
		return l.err
	}

	switch l.durability {
	case DurabilityWrite:
		if err := l.bw.Flush(); err != nil {
			l.err = fmt.Errorf("append checkpoint: %w", err)
		}
	case DurabilitySync:
		if err := l.flushLocked(); err != nil {
			l.err = fmt.Errorf("append checkpoint: %w", err)
		}
	}
	return l.err
}

func appendRecord(b []byte, rec Record) []byte {
	b = append(b, rec.A...)
	b = append(b, '\t')
	b = append(b, rec.B...)
	b = append(b, '\t')
	b = strconv.AppendUint(b, rec.Index, 10)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, rec.Value, 'g', 17, 64)
	return append(b, '\n')
}

// Flush writes buffered records and fsyncs the file.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}
	if err := l.flushLocked(); err != nil {
		l.err = fmt.Errorf("flush checkpoint: %w", err)
	}
	return l.err
}

func (l *Log) flushLocked() error {
	if l.file == nil {
		return ErrClosed
	}
	if err := l.bw.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// Load flushes pending records and parses the whole log.
func (l *Log) Load(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	if l.file == nil {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	err := l.bw.Flush()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	data, err := fs.ReadFile(l.fsys, l.path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint log: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ParseLog(bytes.NewReader(data))
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.bw.Flush()
	err = errors.Join(err, l.file.Close())
	l.file = nil
	if l.err == nil {
		l.err = ErrClosed
	}
	return err
}

// ParseLog reads records from a log. Comment lines are skipped. A final
// line without a newline is a write torn by a crash and is dropped.
func ParseLog(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var (
		records []Record
		lineNo  int
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read checkpoint log: %w", err)
		}
		if errors.Is(err, io.EOF) {
			// Torn or empty tail.
			return records, nil
		}
		lineNo++

		line = strings.TrimSuffix(line, "\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, perr := parseRecord(line)
		if perr != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrCorrupt, lineNo, perr)
		}
		records = append(records, rec)
	}
}

func parseRecord(line string) (Record, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return Record{}, fmt.Errorf("%d fields, want 4", len(fields))
	}
	idx, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Record{}, err
	}
	v, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Record{}, err
	}
	return Record{A: fields[0], B: fields[1], Index: idx, Value: v}, nil
}
