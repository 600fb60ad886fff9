package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVSink appends one row per essay and syncs the file after every row, so an
// interrupted batch leaves a readable prefix.
type CSVSink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSVSink opens path for appending. A new or empty file gets the BOM and
// header; an existing file is continued as-is.
func NewCSVSink(path string) (*CSVSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: failed to create output dir: %w", ErrSinkWrite, err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrSinkWrite, path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: failed to stat %s: %w", ErrSinkWrite, path, err)
	}

	s := &CSVSink{path: path, file: file, writer: csv.NewWriter(file)}

	if info.Size() == 0 {
		if _, err := file.Write(utf8BOM); err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: failed to write BOM: %w", ErrSinkWrite, err)
		}
		if err := s.writeRecord(Header()); err != nil {
			file.Close()
			return nil, err
		}
	}

	logger.Info("CSV sink opened",
		zap.String("path", path),
		zap.Bool("resumed", info.Size() > 0),
	)

	return s, nil
}

func (s *CSVSink) Name() string {
	return "csv"
}

func (s *CSVSink) Path() string {
	return s.path
}

func (s *CSVSink) Append(ctx context.Context, row models.ResultRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("%w: sink closed", ErrSinkWrite)
	}
	if err := s.writeRecord(encodeRow(row)); err != nil {
		return fmt.Errorf("%w (essay %s)", err, row.EssayID)
	}
	s.rows++
	return nil
}

func (s *CSVSink) writeRecord(record []string) error {
	if err := s.writer.Write(record); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync: %w", ErrSinkWrite, err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil

	logger.Info("CSV sink closed", zap.String("path", s.path), zap.Int("rows", s.rows))
	return err
}

// ReadCSV loads every row from a file written by CSVSink.
func ReadCSV(path string) ([]models.ResultRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []models.ResultRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}
		row, err := decodeRow(header, record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
