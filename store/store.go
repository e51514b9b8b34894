/*Package store keeps a SQLite journal of sweeps.  A Journal follows a sweep
as an observer, writing every recorded and skipped position as it happens, so
the results of an interrupted run survive the process.  Runs can be listed
and their results loaded back for export.
*/
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/optlab/bsdfbench/acquire"
	"github.com/optlab/bsdfbench/sweep"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	type TEXT,
	grid TEXT,
	positions INTEGER,
	dark DOUBLE,
	started TEXT,
	finished TEXT,
	state TEXT,
	recorded INTEGER DEFAULT 0,
	skipped INTEGER DEFAULT 0,
	error TEXT
);
CREATE TABLE IF NOT EXISTS measurements (
	run_id TEXT,
	seq INTEGER,
	light_rad DOUBLE,
	light_az DOUBLE,
	det_az DOUBLE,
	det_rad DOUBLE,
	r DOUBLE, g DOUBLE, b DOUBLE,
	r_err DOUBLE, g_err DOUBLE, b_err DOUBLE,
	exposure_us INTEGER,
	frames INTEGER,
	partial BOOLEAN,
	archive TEXT,
	timestamp TEXT,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
CREATE TABLE IF NOT EXISTS skips (
	run_id TEXT,
	light_rad DOUBLE,
	light_az DOUBLE,
	det_az DOUBLE,
	det_rad DOUBLE,
	reason TEXT,
	timestamp TEXT,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
`

// Journal is a sweep.Observer backed by a SQLite database
type Journal struct {
	db *sql.DB

	mu  sync.Mutex
	run string
	seq int
}

// Open opens or creates the journal at path
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer, and in-memory databases are per connection
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// SweepStarted satisfies sweep.Observer
func (j *Journal) SweepStarted(info sweep.RunInfo) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.run = info.ID
	j.seq = 0
	grid, err := json.Marshal(info.Grid)
	if err != nil {
		log.Printf("journal: encoding grid of run %s: %s", info.ID, err)
	}
	_, err = j.db.Exec(`INSERT INTO runs (run_id, type, grid, positions, dark, started, state) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Type.String(), string(grid), info.Positions, info.Dark, stamp(info.Started), sweep.Running.String())
	if err != nil {
		log.Printf("journal: recording start of run %s: %s", info.ID, err)
	}
}

// PositionRecorded satisfies sweep.Observer
func (j *Journal) PositionRecorded(k sweep.Key, s *acquire.Sample) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	_, err := j.db.Exec(`INSERT INTO measurements
		(run_id, seq, light_rad, light_az, det_az, det_rad, r, g, b, r_err, g_err, b_err, exposure_us, frames, partial, archive, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.run, j.seq, k.LightRadial, k.LightAzimuthal, k.DetectorAzimuthal, k.DetectorRadial,
		s.R.Mean, s.G.Mean, s.B.Mean, s.R.RelErr, s.G.RelErr, s.B.RelErr,
		s.Exposure.Microseconds(), s.Accepted, s.Partial, s.ArchivePath, stamp(time.Now()))
	if err != nil {
		log.Printf("journal: recording %s: %s", k, err)
	}
}

// PositionSkipped satisfies sweep.Observer
func (j *Journal) PositionSkipped(k sweep.Key, reason error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`INSERT INTO skips (run_id, light_rad, light_az, det_az, det_rad, reason, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.run, k.LightRadial, k.LightAzimuthal, k.DetectorAzimuthal, k.DetectorRadial, reason.Error(), stamp(time.Now()))
	if err != nil {
		log.Printf("journal: recording skip of %s: %s", k, err)
	}
}

// SweepFinished satisfies sweep.Observer
func (j *Journal) SweepFinished(sum sweep.Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`UPDATE runs SET finished = ?, state = ?, recorded = ?, skipped = ?, error = ? WHERE run_id = ?`,
		stamp(sum.Finished), sum.State.String(), sum.Recorded, sum.Skipped, sum.Err, sum.ID)
	if err != nil {
		log.Printf("journal: recording end of run %s: %s", sum.ID, err)
	}
}

// Run is one row of the runs table
type Run struct {
	ID        string                `json:"id"`
	Type      sweep.MeasurementType `json:"type"`
	Grid      sweep.Grid            `json:"grid"`
	Positions int                   `json:"positions"`
	Dark      float64               `json:"dark"`
	Started   time.Time             `json:"started"`
	Finished  time.Time             `json:"finished,omitempty"`
	State     string                `json:"state"`
	Recorded  int                   `json:"recorded"`
	Skipped   int                   `json:"skipped"`
	Err       string                `json:"error,omitempty"`
}

func scanRun(sc interface{ Scan(...interface{}) error }) (Run, error) {
	var (
		r                 Run
		typ, grid, start  string
		fin, state, errst sql.NullString
	)
	if err := sc.Scan(&r.ID, &typ, &grid, &r.Positions, &r.Dark, &start, &fin, &state, &r.Recorded, &r.Skipped, &errst); err != nil {
		return Run{}, err
	}
	var err error
	if r.Type, err = sweep.ParseMeasurementType(typ); err != nil {
		return Run{}, err
	}
	if err = json.Unmarshal([]byte(grid), &r.Grid); err != nil {
		return Run{}, fmt.Errorf("decoding grid of run %s: %w", r.ID, err)
	}
	if r.Started, err = time.Parse(time.RFC3339Nano, start); err != nil {
		return Run{}, err
	}
	if fin.Valid && fin.String != "" {
		if r.Finished, err = time.Parse(time.RFC3339Nano, fin.String); err != nil {
			return Run{}, err
		}
	}
	r.State = state.String
	r.Err = errst.String
	return r, nil
}

const runColumns = `run_id, type, grid, positions, dark, started, finished, state, recorded, skipped, error`

// Runs lists every journaled run, newest first
func (j *Journal) Runs() ([]Run, error) {
	rows, err := j.db.Query(`SELECT ` + runColumns + ` FROM runs ORDER BY started DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns one run
func (j *Journal) GetRun(id string) (Run, error) {
	return scanRun(j.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
}

// Load rebuilds the results of a run in recording order
func (j *Journal) Load(id string) (sweep.Results, error) {
	rows, err := j.db.Query(`SELECT light_rad, light_az, det_az, det_rad, r, g, b, r_err, g_err, b_err
		FROM measurements WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return sweep.Results{}, err
	}
	defer rows.Close()
	res := sweep.NewResults()
	for rows.Next() {
		var (
			lr, la, da, dr float64
			m, e           sweep.RGB
		)
		if err := rows.Scan(&lr, &la, &da, &dr, &m.R, &m.G, &m.B, &e.R, &e.G, &e.B); err != nil {
			return sweep.Results{}, err
		}
		res.Record(sweep.NewKey(lr, la, da, dr), m, e)
	}
	return res, rows.Err()
}

// Skip is one skipped position
type Skip struct {
	Key    sweep.Key `json:"key"`
	Reason string    `json:"reason"`
}

// Skips lists the skipped positions of a run
func (j *Journal) Skips(id string) ([]Skip, error) {
	rows, err := j.db.Query(`SELECT light_rad, light_az, det_az, det_rad, reason FROM skips WHERE run_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Skip
	for rows.Next() {
		var (
			lr, la, da, dr float64
			s              Skip
		)
		if err := rows.Scan(&lr, &la, &da, &dr, &s.Reason); err != nil {
			return nil, err
		}
		s.Key = sweep.NewKey(lr, la, da, dr)
		out = append(out, s)
	}
	return out, rows.Err()
}
