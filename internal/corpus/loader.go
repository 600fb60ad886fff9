package corpus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/essay-grader/backend/internal/storage/models"
	"github.com/essay-grader/backend/pkg/logger"
)

var (
	ErrSourceUnavailable = errors.New("essay pool unavailable")
	ErrRecordUnparseable = errors.New("essay record unparseable")
)

const DefaultPattern = "tema-*.json"

type Options struct {
	// Pattern selects files when the pool location is a directory.
	Pattern string
	// SampleSize <= 0 keeps the whole pool.
	SampleSize int
	// Seed 0 seeds from the clock.
	Seed int64
}

// Report summarises what a load kept and dropped.
type Report struct {
	Files          int
	FilesSkipped   int
	Records        int
	RecordsDropped int
	IDsQualified   int
	Sampled        int
}

type rawRecord struct {
	ID           json.RawMessage `json:"id"`
	Tema         string          `json:"tema"`
	Texto        string          `json:"texto"`
	Nota         json.RawMessage `json:"nota"`
	Competencias []rawCompetency `json:"competencias"`
}

type rawCompetency struct {
	Competencia string          `json:"competencia"`
	Nota        json.RawMessage `json:"nota"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads every pool file under location (a directory filtered by
// Pattern, or a single file), concatenates their essays and draws a uniform
// sample without replacement. Unreadable files and invalid records are
// skipped and counted in the report.
func Load(location string, opts Options) ([]models.EssayRecord, Report, error) {
	var report Report

	files, err := poolFiles(location, opts.Pattern)
	if err != nil {
		return nil, report, err
	}
	report.Files = len(files)

	logger.Info("Loading essay pool",
		zap.String("location", location),
		zap.Int("files", len(files)),
	)

	var pool []models.EssayRecord
	seen := make(map[string]struct{})

	for _, path := range files {
		name := filepath.Base(path)

		raws, err := readFile(path)
		if err != nil {
			report.FilesSkipped++
			logger.Warn("Skipping unreadable pool file", zap.String("file", name), zap.Error(err))
			continue
		}

		for i, raw := range raws {
			rec, err := convert(raw, name)
			if err != nil {
				report.RecordsDropped++
				logger.Warn("Dropping essay record",
					zap.String("file", name),
					zap.Int("position", i),
					zap.Error(err),
				)
				continue
			}

			if _, dup := seen[rec.ID]; dup {
				rec.ID = uniqueID(seen, name+"#"+rec.ID)
				report.IDsQualified++
			}
			seen[rec.ID] = struct{}{}
			pool = append(pool, rec)
		}
	}

	report.Records = len(pool)
	sample := Sample(pool, opts.SampleSize, opts.Seed)
	report.Sampled = len(sample)

	logger.Info("Essay pool loaded",
		zap.Int("records", report.Records),
		zap.Int("records_dropped", report.RecordsDropped),
		zap.Int("files_skipped", report.FilesSkipped),
		zap.Int("sampled", report.Sampled),
	)

	return sample, report, nil
}

// uniqueID returns base, or base#2, base#3 and so on, whichever is unused first.
func uniqueID(seen map[string]struct{}, base string) string {
	id := base
	for n := 2; ; n++ {
		if _, taken := seen[id]; !taken {
			return id
		}
		id = base + "#" + strconv.Itoa(n)
	}
}

func poolFiles(location, pattern string) ([]string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if !info.IsDir() {
		return []string{location}, nil
	}

	if pattern == "" {
		pattern = DefaultPattern
	}
	files, err := filepath.Glob(filepath.Join(location, pattern))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %w", ErrSourceUnavailable, pattern, err)
	}
	sort.Strings(files)
	return files, nil
}

// readFile accepts an array of records, an array of arrays of records, or a
// single record object.
func readFile(path string) ([]rawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var top json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("failed to decode file: %w", err)
	}
	return flatten(top, 0)
}

func flatten(msg json.RawMessage, depth int) ([]rawRecord, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return nil, nil
	}

	switch msg[0] {
	case '[':
		if depth > 1 {
			return nil, errors.New("records nested too deeply")
		}
		var items []json.RawMessage
		if err := json.Unmarshal(msg, &items); err != nil {
			return nil, fmt.Errorf("failed to decode record list: %w", err)
		}
		var out []rawRecord
		for _, item := range items {
			recs, err := flatten(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, recs...)
		}
		return out, nil
	case '{':
		var rec rawRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			// keep the slot so the record is counted as dropped, not the file
			return []rawRecord{{}}, nil
		}
		return []rawRecord{rec}, nil
	default:
		return nil, fmt.Errorf("unexpected JSON value %q", truncateBytes(msg, 16))
	}
}

func convert(raw rawRecord, sourceFile string) (models.EssayRecord, error) {
	rec := models.EssayRecord{
		ID:         jsonScalar(raw.ID),
		Prompt:     raw.Tema,
		Body:       raw.Texto,
		SourceFile: sourceFile,
	}

	if err := validate.Struct(rec); err != nil {
		return models.EssayRecord{}, fmt.Errorf("%w: %w", ErrRecordUnparseable, err)
	}

	if total, ok := jsonInt(raw.Nota); ok {
		total = models.ClampFinal(total)
		rec.ReferenceTotal = &total
	}
	rec.ReferenceScores = referenceScores(raw.Competencias)

	return rec, nil
}

// Sample draws up to n records uniformly without replacement. n <= 0 or n
// larger than the pool returns the pool itself.
func Sample(pool []models.EssayRecord, n int, seed int64) []models.EssayRecord {
	if n <= 0 || n >= len(pool) {
		return pool
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	shuffled := make([]models.EssayRecord, len(pool))
	copy(shuffled, pool)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
