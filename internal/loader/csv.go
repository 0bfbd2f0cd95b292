package loader

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"openrange/pkg/model"
)

// DefaultLayouts are tried in order when parsing the datetime column
var DefaultLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
}

// Options controls CSV parsing
type Options struct {
	Location *time.Location // session-local zone; nil means UTC
	Layouts  []string       // datetime layouts; nil means DefaultLayouts
}

// Result is the outcome of reading a bar file
type Result struct {
	Bars    []model.Bar
	Lines   int // data lines seen, header excluded
	Skipped int // lines that could not be parsed
}

// Loader parses datetime,open,high,low,close[,volume] files
type Loader struct {
	opts   Options
	logger *zap.Logger
}

// New creates a loader. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Loader {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if len(opts.Layouts) == 0 {
		opts.Layouts = DefaultLayouts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{opts: opts, logger: logger}
}

// LoadFile reads bars from a CSV file
func (l *Loader) LoadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bar file: %w", err)
	}
	defer f.Close()

	res, err := l.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	l.logger.Info("bars loaded",
		zap.String("file", path),
		zap.Int("bars", len(res.Bars)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// Read parses bars from r. Lines that fail to parse are skipped and counted;
// an optional header line is recognized and ignored.
func (l *Loader) Read(r io.Reader) (*Result, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	res := &Result{}
	first := true
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Lines++
				res.Skipped++
				l.logger.Debug("skipping malformed csv line", zap.Error(err))
				continue
			}
			return nil, err
		}
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}

		bar, err := l.parseRecord(rec)
		if err != nil {
			if first && isHeader(rec) {
				first = false
				continue
			}
			first = false
			res.Lines++
			res.Skipped++
			line, _ := reader.FieldPos(0)
			l.logger.Debug("skipping bar line", zap.Int("line", line), zap.Error(err))
			continue
		}
		first = false
		res.Lines++
		res.Bars = append(res.Bars, bar)
	}
	return res, nil
}

func isHeader(rec []string) bool {
	field := strings.ToLower(strings.TrimSpace(rec[0]))
	for _, name := range []string{"date", "time", "timestamp"} {
		if strings.Contains(field, name) {
			return true
		}
	}
	return false
}

func (l *Loader) parseRecord(rec []string) (model.Bar, error) {
	if len(rec) < 5 {
		return model.Bar{}, fmt.Errorf("expected at least 5 fields, got %d", len(rec))
	}

	ts, err := l.parseTime(strings.TrimSpace(rec[0]))
	if err != nil {
		return model.Bar{}, err
	}

	var prices [4]float64
	for i := range prices {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		prices[i] = v
	}

	var volume int64
	if len(rec) > 5 && strings.TrimSpace(rec[5]) != "" {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("volume: %w", err)
		}
		volume = int64(v)
	}

	return model.Bar{
		Time:   ts,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume,
	}, nil
}

// parseTime accepts the configured layouts or a Unix timestamp in milliseconds
func (l *Loader) parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).In(l.opts.Location), nil
	}
	for _, layout := range l.opts.Layouts {
		if t, err := time.ParseInLocation(layout, s, l.opts.Location); err == nil {
			if layout == time.RFC3339 {
				t = t.In(l.opts.Location)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}
