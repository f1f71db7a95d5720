package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strikelab/impact.report/internal/classify"
)

// ErrRoundNotFound is returned when a round id does not exist.
var ErrRoundNotFound = errors.New("training round not found")

// Round is one training session. The config snapshot fields (DeviceID,
// Channels, Labels, Bands) are copied from settings at round start and
// never change for the round's lifetime, even if the operator edits the
// settings mid-round.
type Round struct {
	ID           int64                          `json:"id"`
	TrainingName string                         `json:"training_name"`
	DeviceID     string                         `json:"device_id"`
	Channels     [classify.Positions]string     `json:"map_force_position"`
	Labels       [classify.Positions]string     `json:"sensor_labels"`
	Bands        [classify.Bands]classify.Band  `json:"bands"`
	CustomFields map[string]string              `json:"custom_fields"`
	StartTime    time.Time                      `json:"start_time"`
	StopTime     *time.Time                     `json:"stop_time"`
}

// Snapshot returns the round's immutable classification config.
func (r *Round) Snapshot() classify.Config {
	return classify.Config{
		DeviceID: r.DeviceID,
		Channels: r.Channels,
		Labels:   r.Labels,
		Bands:    r.Bands,
	}
}

// CreateRound persists a new round and sets its ID.
func (db *DB) CreateRound(r *Round) error {
	channels, err := json.Marshal(r.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channel mapping: %w", err)
	}
	labels, err := json.Marshal(r.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	bands, err := json.Marshal(r.Bands)
	if err != nil {
		return fmt.Errorf("failed to marshal bands: %w", err)
	}
	custom, err := json.Marshal(r.CustomFields)
	if err != nil {
		return fmt.Errorf("failed to marshal custom fields: %w", err)
	}

	result, err := db.Exec(
		`INSERT INTO training_round (
			training_name, device_id, map_force_position, sensor_labels,
			bands, custom_fields, start_time
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.TrainingName, r.DeviceID, string(channels), string(labels),
		string(bands), string(custom), formatTime(r.StartTime),
	)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	r.ID = id
	return nil
}

// StopRound stamps the round's stop time.
func (db *DB) StopRound(id int64, stopTime time.Time) error {
	result, err := db.Exec(
		"UPDATE training_round SET stop_time = ? WHERE id = ?",
		formatTime(stopTime), id,
	)
	if err != nil {
		return fmt.Errorf("failed to stop round: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrRoundNotFound
	}
	return nil
}

const roundColumns = `id, training_name, device_id, map_force_position,
	sensor_labels, bands, custom_fields, start_time, stop_time`

// GetRound retrieves a round by ID.
func (db *DB) GetRound(id int64) (*Round, error) {
	row := db.QueryRow(
		"SELECT "+roundColumns+" FROM training_round WHERE id = ?", id)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoundNotFound
	}
	return r, err
}

// RoundFilter narrows and orders ListRounds results. Zero-value fields are
// ignored; SortBy is checked against a column whitelist and falls back to
// start_time descending.
type RoundFilter struct {
	TrainingName string
	DeviceID     string
	SortBy       string
	SortOrder    string
}

var sortableRoundColumns = map[string]bool{
	"id":            true,
	"training_name": true,
	"device_id":     true,
	"start_time":    true,
	"stop_time":     true,
}

// ListRounds returns rounds matching the filter.
func (db *DB) ListRounds(f RoundFilter) ([]Round, error) {
	query := "SELECT " + roundColumns + " FROM training_round"
	var conditions []string
	var params []any

	if f.TrainingName != "" {
		conditions = append(conditions, "training_name LIKE ?")
		params = append(params, "%"+f.TrainingName+"%")
	}
	if f.DeviceID != "" {
		conditions = append(conditions, "device_id LIKE ?")
		params = append(params, "%"+f.DeviceID+"%")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	sortBy := f.SortBy
	if !sortableRoundColumns[sortBy] {
		sortBy = "start_time"
	}
	sortOrder := strings.ToUpper(f.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	rows, err := db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rounds, nil
}

// DeleteRound removes a round and all its events.
func (db *DB) DeleteRound(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sensor_event WHERE round_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete round events: %w", err)
	}
	result, err := tx.Exec("DELETE FROM training_round WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete round: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrRoundNotFound
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*Round, error) {
	var (
		r         Round
		channels  string
		labels    string
		bands     string
		custom    sql.NullString
		startTime string
		stopTime  sql.NullString
	)
	if err := row.Scan(
		&r.ID, &r.TrainingName, &r.DeviceID, &channels, &labels,
		&bands, &custom, &startTime, &stopTime,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan round: %w", err)
	}

	if err := json.Unmarshal([]byte(channels), &r.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channel mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &r.Labels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(bands), &r.Bands); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bands: %w", err)
	}
	if custom.Valid && custom.String != "" {
		if err := json.Unmarshal([]byte(custom.String), &r.CustomFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
		}
	}

	start, err := parseTime(startTime)
	if err != nil {
		return nil, err
	}
	r.StartTime = start

	if stopTime.Valid && stopTime.String != "" {
		stop, err := parseTime(stopTime.String)
		if err != nil {
			return nil, err
		}
		r.StopTime = &stop
	}
	return &r, nil
}
