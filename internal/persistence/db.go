// Package persistence provides SQLite-based storage for colony snapshots
// and the published event log.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/hive-sim/internal/bees"
	"github.com/talgya/hive-sim/internal/colony"
	"github.com/talgya/hive-sim/internal/events"
	"github.com/talgya/hive-sim/internal/world"
)

// Meta keys written by SaveSnapshot.
const (
	metaTotalTicks = "total_ticks"
	metaClockTick  = "clock_tick"
	metaNextBeeID  = "next_bee_id"
	metaSavedAt    = "saved_at"
)

// DB wraps a SQLite connection for simulation state persistence.
type DB struct {
	conn  *sqlx.DB
	retry retryConfig
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn, retry: defaultRetryConfig}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS colonies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		hive_x REAL NOT NULL,
		hive_y REAL NOT NULL,
		min_workers INTEGER NOT NULL,
		honey REAL NOT NULL,
		born INTEGER NOT NULL,
		died INTEGER NOT NULL,
		brood_json TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bees (
		id TEXT PRIMARY KEY,
		colony_id TEXT NOT NULL REFERENCES colonies(id),
		kind TEXT NOT NULL,
		alive INTEGER NOT NULL,
		energy REAL NOT NULL,
		born_at INTEGER NOT NULL,
		died_tick INTEGER NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		task TEXT NOT NULL,
		dest_x REAL NOT NULL DEFAULT 0,
		dest_y REAL NOT NULL DEFAULT 0,
		has_dest INTEGER NOT NULL DEFAULT 0,
		patch INTEGER NOT NULL DEFAULT 0,
		nectar REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		tick INTEGER NOT NULL,
		sim_time INTEGER NOT NULL,
		wall_time INTEGER NOT NULL,
		colony_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		category TEXT NOT NULL,
		message TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_colony ON events(colony_id);
	CREATE INDEX IF NOT EXISTS idx_bees_colony ON bees(colony_id);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.addMissingColumns("bees", beeFlightColumns)
}

// beeFlightColumns were added to bees after the first release.
var beeFlightColumns = []struct{ name, ddl string }{
	{"dest_x", "REAL NOT NULL DEFAULT 0"},
	{"dest_y", "REAL NOT NULL DEFAULT 0"},
	{"has_dest", "INTEGER NOT NULL DEFAULT 0"},
	{"patch", "INTEGER NOT NULL DEFAULT 0"},
}

// addMissingColumns brings a table created by an older schema up to date.
func (db *DB) addMissingColumns(table string, cols []struct{ name, ddl string }) error {
	var have []string
	if err := db.conn.Select(&have, "SELECT name FROM pragma_table_info(?)", table); err != nil {
		return fmt.Errorf("inspect %s: %w", table, err)
	}
	existing := make(map[string]bool, len(have))
	for _, name := range have {
		existing[name] = true
	}
	for _, c := range cols {
		if existing[c.name] {
			continue
		}
		if _, err := db.conn.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.ddl)); err != nil {
			return fmt.Errorf("add %s.%s: %w", table, c.name, err)
		}
	}
	return nil
}

// Saved is a full simulation snapshot as stored.
type Saved struct {
	TotalTicks uint64
	ClockTick  uint64
	NextBeeID  uint64
	SavedAt    time.Time
	Colonies   []colony.Snapshot
}

// SaveSnapshot replaces the stored colonies and bees with s.
func (db *DB) SaveSnapshot(s Saved) error {
	n := 0
	for _, c := range s.Colonies {
		n += len(c.Bees)
	}
	slog.Info("saving simulation state", "colonies", len(s.Colonies), "bees", n, "tick", s.TotalTicks)

	err := retryOp(db.retry, func() error { return db.saveSnapshot(s) })
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	slog.Info("simulation state saved")
	return nil
}

func (db *DB) saveSnapshot(s Saved) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM bees"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM colonies"); err != nil {
		return err
	}

	beeStmt, err := tx.Preparex(`INSERT INTO bees
		(id, colony_id, kind, alive, energy, born_at, died_tick, pos_x, pos_y, task,
		 dest_x, dest_y, has_dest, patch, nectar)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer beeStmt.Close()

	for i, c := range s.Colonies {
		broodJSON, err := json.Marshal(c.Brood)
		if err != nil {
			return fmt.Errorf("encode brood for %s: %w", c.ID, err)
		}
		_, err = tx.Exec(`INSERT INTO colonies
			(id, name, hive_x, hive_y, min_workers, honey, born, died, brood_json, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Hive.X, c.Hive.Y, c.MinWorkers, c.Honey,
			int64(c.Born), int64(c.Died), string(broodJSON), i,
		)
		if err != nil {
			return fmt.Errorf("insert colony %s: %w", c.ID, err)
		}

		for _, b := range c.Bees {
			_, err := beeStmt.Exec(
				b.ID, c.ID, b.Kind, b.Alive, b.Energy, b.BornAt.UnixNano(),
				int64(b.DiedTick), b.Position.X, b.Position.Y, b.Task,
				b.Dest.X, b.Dest.Y, b.HasDest, int64(b.Patch), b.Nectar,
			)
			if err != nil {
				return fmt.Errorf("insert bee %s: %w", b.ID, err)
			}
		}
	}

	savedAt := s.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	meta := map[string]string{
		metaTotalTicks: strconv.FormatUint(s.TotalTicks, 10),
		metaClockTick:  strconv.FormatUint(s.ClockTick, 10),
		metaNextBeeID:  strconv.FormatUint(s.NextBeeID, 10),
		metaSavedAt:    savedAt.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	return tx.Commit()
}

// HasSnapshot reports whether a snapshot has been saved.
func (db *DB) HasSnapshot() (bool, error) {
	_, err := db.GetMeta(metaSavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

type colonyRow struct {
	ID         string  `db:"id"`
	Name       string  `db:"name"`
	HiveX      float64 `db:"hive_x"`
	HiveY      float64 `db:"hive_y"`
	MinWorkers int     `db:"min_workers"`
	Honey      float64 `db:"honey"`
	Born       int64   `db:"born"`
	Died       int64   `db:"died"`
	BroodJSON  string  `db:"brood_json"`
}

type beeRow struct {
	ID       string  `db:"id"`
	ColonyID string  `db:"colony_id"`
	Kind     string  `db:"kind"`
	Alive    bool    `db:"alive"`
	Energy   float64 `db:"energy"`
	BornAt   int64   `db:"born_at"`
	DiedTick int64   `db:"died_tick"`
	PosX     float64 `db:"pos_x"`
	PosY     float64 `db:"pos_y"`
	Task     string  `db:"task"`
	DestX    float64 `db:"dest_x"`
	DestY    float64 `db:"dest_y"`
	HasDest  bool    `db:"has_dest"`
	Patch    int64   `db:"patch"`
	Nectar   float64 `db:"nectar"`
}

// LoadSnapshot reads the stored snapshot. Colonies come back in the order
// they were saved.
func (db *DB) LoadSnapshot() (Saved, error) {
	var s Saved

	var colonies []colonyRow
	err := db.conn.Select(&colonies, `SELECT id, name, hive_x, hive_y, min_workers, honey, born, died, brood_json
		FROM colonies ORDER BY position`)
	if err != nil {
		return s, fmt.Errorf("load colonies: %w", err)
	}

	var beeRows []beeRow
	err = db.conn.Select(&beeRows, `SELECT id, colony_id, kind, alive, energy, born_at, died_tick, pos_x, pos_y, task,
		dest_x, dest_y, has_dest, patch, nectar
		FROM bees ORDER BY id`)
	if err != nil {
		return s, fmt.Errorf("load bees: %w", err)
	}
	byColony := make(map[string][]bees.Snapshot, len(colonies))
	for _, r := range beeRows {
		byColony[r.ColonyID] = append(byColony[r.ColonyID], bees.Snapshot{
			ID:       r.ID,
			Kind:     r.Kind,
			Alive:    r.Alive,
			Energy:   r.Energy,
			BornAt:   time.Unix(0, r.BornAt).UTC(),
			DiedTick: uint64(r.DiedTick),
			Position: world.Vec2{X: r.PosX, Y: r.PosY},
			Task:     r.Task,
			Dest:     world.Vec2{X: r.DestX, Y: r.DestY},
			HasDest:  r.HasDest,
			Patch:    world.PatchID(r.Patch),
			Nectar:   r.Nectar,
		})
	}

	for _, r := range colonies {
		cs := colony.Snapshot{
			ID:         r.ID,
			Name:       r.Name,
			Hive:       world.Vec2{X: r.HiveX, Y: r.HiveY},
			MinWorkers: r.MinWorkers,
			Honey:      r.Honey,
			Born:       uint64(r.Born),
			Died:       uint64(r.Died),
			Bees:       byColony[r.ID],
		}
		if err := json.Unmarshal([]byte(r.BroodJSON), &cs.Brood); err != nil {
			return s, fmt.Errorf("decode brood for %s: %w", r.ID, err)
		}
		s.Colonies = append(s.Colonies, cs)
	}

	if s.TotalTicks, err = db.metaUint(metaTotalTicks); err != nil {
		return s, err
	}
	if s.ClockTick, err = db.metaUint(metaClockTick); err != nil {
		return s, err
	}
	if s.NextBeeID, err = db.metaUint(metaNextBeeID); err != nil {
		return s, err
	}
	if v, err := db.GetMeta(metaSavedAt); err == nil {
		s.SavedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return s, nil
}

func (db *DB) metaUint(key string) (uint64, error) {
	v, err := db.GetMeta(key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get meta %s: %w", key, err)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse meta %s: %w", key, err)
	}
	return n, nil
}

// AppendEvents appends events to the log. Events already stored are skipped.
func (db *DB) AppendEvents(evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	return retryOp(db.retry, func() error {
		tx, err := db.conn.Beginx()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Preparex(`INSERT OR IGNORE INTO events
			(id, kind, tick, sim_time, wall_time, colony_id, actor_id, category, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range evs {
			_, err := stmt.Exec(
				e.ID, string(e.Kind), int64(e.Tick), e.SimTime.UnixNano(), e.Time.UnixNano(),
				e.ColonyID, e.ActorID, e.Category, e.Message,
			)
			if err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}
		}
		return tx.Commit()
	})
}

type eventRow struct {
	ID       string `db:"id"`
	Kind     string `db:"kind"`
	Tick     int64  `db:"tick"`
	SimTime  int64  `db:"sim_time"`
	WallTime int64  `db:"wall_time"`
	ColonyID string `db:"colony_id"`
	ActorID  string `db:"actor_id"`
	Category string `db:"category"`
	Message  string `db:"message"`
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]events.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT id, kind, tick, sim_time, wall_time, colony_id, actor_id, category, message
		FROM events ORDER BY seq DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	out := make([]events.Event, len(rows))
	for i, r := range rows {
		out[i] = events.Event{
			ID:       r.ID,
			Kind:     events.Kind(r.Kind),
			Tick:     uint64(r.Tick),
			SimTime:  time.Unix(0, r.SimTime).UTC(),
			Time:     time.Unix(0, r.WallTime),
			ColonyID: r.ColonyID,
			ActorID:  r.ActorID,
			Category: r.Category,
			Message:  r.Message,
		}
	}
	return out, nil
}

// SaveMeta stores a key-value pair in simulation metadata.
func (db *DB) SaveMeta(key, value string) error {
	return retryOp(db.retry, func() error {
		_, err := db.conn.Exec(
			"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
			key, value,
		)
		return err
	})
}

// GetMeta retrieves a metadata value. A missing key returns sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}
