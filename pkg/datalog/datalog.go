// Package datalog writes and reads the per-sample CSV run log.
package datalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/control"
	"github.com/tigerbot-team/tigerbot/speedcontroller/pkg/wheel"
)

// Header is the fixed part of the log header.
var Header = []string{"time", "power_l", "rpm_l", "power_r", "rpm_r", "setpoint"}

// CSVRecorder appends one row per sample.  Extra columns carry run labels
// such as the trial number of a sweep; their values are set with SetExtra
// and repeated on every row until changed.
type CSVRecorder struct {
	lock      sync.Mutex
	w         *csv.Writer
	closer    io.Closer
	extraCols []string
	extra     []string
}

var _ control.Recorder = (*CSVRecorder)(nil)

// NewCSVRecorder writes the header to w.
func NewCSVRecorder(w io.Writer, extraColumns ...string) (*CSVRecorder, error) {
	for _, c := range extraColumns {
		if isKnownColumn(c) {
			return nil, errors.Errorf("extra column %q clashes with a standard column", c)
		}
	}
	r := &CSVRecorder{
		w:         csv.NewWriter(w),
		extraCols: extraColumns,
		extra:     make([]string, len(extraColumns)),
	}
	if err := r.w.Write(append(append([]string(nil), Header...), extraColumns...)); err != nil {
		return nil, errors.Wrap(err, "writing log header")
	}
	r.w.Flush()
	return r, r.w.Error()
}

// Create creates (or truncates) the log file at path, creating its directory
// if needed.
func Create(path string, extraColumns ...string) (*CSVRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating log directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "creating log file")
	}
	r, err := NewCSVRecorder(f, extraColumns...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// SetExtra sets the values of the extra columns for subsequent rows.
func (r *CSVRecorder) SetExtra(values ...string) error {
	if len(values) != len(r.extraCols) {
		return errors.Errorf("got %d extra values for %d extra columns", len(values), len(r.extraCols))
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	copy(r.extra, values)
	return nil
}

func (r *CSVRecorder) Record(s control.Sample) error {
	row := []string{
		format(s.Time.Seconds()),
		format(s.Duty.Left()),
		format(s.RPM.Left()),
		format(s.Duty.Right()),
		format(s.RPM.Right()),
		format(s.Setpoint),
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	row = append(row, r.extra...)
	if err := r.w.Write(row); err != nil {
		return errors.Wrap(err, "writing log row")
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *CSVRecorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.w.Flush()
	err := r.w.Error()
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
		r.closer = nil
	}
	return err
}

func format(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// Row is one parsed log row.
type Row struct {
	Time     float64
	Power    wheel.PerWheel[float64]
	RPM      wheel.PerWheel[float64]
	Setpoint float64
	Extra    map[string]string
}

const (
	colTime = iota
	colPowerL
	colRPML
	colPowerR
	colRPMR
	colSetpoint
)

// aliases maps accepted header names, lower-cased, to standard columns.
var aliases = map[string]int{
	"time":          colTime,
	"t":             colTime,
	"power_l":       colPowerL,
	"input_power_l": colPowerL,
	"l_power":       colPowerL,
	"rpm_l":         colRPML,
	"l_rpm":         colRPML,
	"power_r":       colPowerR,
	"input_power_r": colPowerR,
	"r_pwr":         colPowerR,
	"rpm_r":         colRPMR,
	"r_rpm":         colRPMR,
	"setpoint":      colSetpoint,
}

func isKnownColumn(name string) bool {
	_, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Read parses a log.  Lines before the header (such as a title line) are
// skipped, columns may appear in any order and unknown columns are returned
// in Row.Extra.  The time and both RPM columns are required.
func Read(in io.Reader) ([]Row, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		cols   map[int]int
		extras map[int]string
		rows   []Row
		line   int
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading log")
		}
		line++
		if cols == nil {
			cols, extras = parseHeader(rec)
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := Row{Extra: map[string]string{}}
		for i, field := range rec {
			if name, ok := extras[i]; ok {
				row.Extra[name] = strings.TrimSpace(field)
				continue
			}
			col, ok := cols[i]
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d column %d", line, i+1)
			}
			switch col {
			case colTime:
				row.Time = v
			case colPowerL:
				row.Power[wheel.Left] = v
			case colRPML:
				row.RPM[wheel.Left] = v
			case colPowerR:
				row.Power[wheel.Right] = v
			case colRPMR:
				row.RPM[wheel.Right] = v
			case colSetpoint:
				row.Setpoint = v
			}
		}
		rows = append(rows, row)
	}
	if cols == nil {
		return nil, errors.New("log has no header with time, rpm_l and rpm_r columns")
	}
	return rows, nil
}

// parseHeader returns nil unless rec is a usable header.
func parseHeader(rec []string) (map[int]int, map[int]string) {
	cols := map[int]int{}
	extras := map[int]string{}
	seen := map[int]bool{}
	for i, name := range rec {
		name = strings.TrimSpace(name)
		col, ok := aliases[strings.ToLower(name)]
		if !ok {
			if name != "" {
				extras[i] = name
			}
			continue
		}
		cols[i] = col
		seen[col] = true
	}
	if !seen[colTime] || !seen[colRPML] || !seen[colRPMR] {
		return nil, nil
	}
	return cols, extras
}

// ReadFile parses the log at path.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening log")
	}
	defer f.Close()
	return Read(f)
}

// Series extracts the time, RPM and power columns of one wheel.
func Series(rows []Row, w wheel.Wheel) (t, rpm, power []float64) {
	t = make([]float64, len(rows))
	rpm = make([]float64, len(rows))
	power = make([]float64, len(rows))
	for i, r := range rows {
		t[i] = r.Time
		rpm[i] = r.RPM[w]
		power[i] = r.Power[w]
	}
	return
}
