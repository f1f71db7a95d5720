package db

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/strikelab/impact.report/internal/classify"
)

// CustomField is an operator-defined extra field recorded with each round.
// The core persists the values but never interprets them.
type CustomField struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Default string `json:"default"`
}

// Settings are the operator-editable values backing the config table.
// The expected device id is not a setting; the operator supplies it when
// starting a round.
type Settings struct {
	Broker       string                        `json:"mqtt_broker"`
	Port         int                           `json:"mqtt_port"`
	Labels       [classify.Positions]string    `json:"sensor_labels"`
	Channels     [classify.Positions]string    `json:"default_channels"`
	Bands        [classify.Bands]classify.Band `json:"bands"`
	CustomFields []CustomField                 `json:"custom_fields"`
}

// DefaultSettings returns the compiled-in defaults. Missing or unparsable
// stored values fall back to these rather than failing a round.
func DefaultSettings() Settings {
	return Settings{
		Broker:   "broker.mqtt.cool",
		Port:     1883,
		Labels:   [classify.Positions]string{"หัว", "ลำตัว", "ท้อง", "ขา"},
		Channels: [classify.Positions]string{"A0", "A1", "A3", "A4"},
		Bands: [classify.Bands]classify.Band{
			{Min: 100, Max: 199},
			{Min: 200, Max: 299},
			{Min: 300, Max: 399},
		},
		CustomFields: []CustomField{},
	}
}

// settingsKeys maps each config row key to its serialized default.
func settingsKeys(s Settings) map[string]string {
	keys := map[string]string{
		"mqtt_broker": s.Broker,
		"mqtt_port":   strconv.Itoa(s.Port),
	}
	for i := 0; i < classify.Positions; i++ {
		keys[fmt.Sprintf("sensor_label%d", i+1)] = s.Labels[i]
		keys[fmt.Sprintf("default_position_sensor%d", i+1)] = s.Channels[i]
	}
	for i := 0; i < classify.Bands; i++ {
		keys[fmt.Sprintf("sensor_value_range_min%d", i+1)] = strconv.Itoa(s.Bands[i].Min)
		keys[fmt.Sprintf("sensor_value_range_max%d", i+1)] = strconv.Itoa(s.Bands[i].Max)
	}
	custom, _ := json.Marshal(s.CustomFields)
	keys["custom_fields"] = string(custom)
	return keys
}

// seedDefaultSettings inserts defaults for config keys that do not exist
// yet, leaving operator-set values alone.
func (db *DB) seedDefaultSettings() error {
	for key, value := range settingsKeys(DefaultSettings()) {
		_, err := db.Exec(
			"INSERT OR IGNORE INTO config (key, value) VALUES (?, ?)",
			key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to seed config key %q: %w", key, err)
		}
	}
	return nil
}

// Settings reads the config table, filling compiled-in defaults for any
// missing or unparsable value.
func (db *DB) Settings() (Settings, error) {
	s := DefaultSettings()

	rows, err := db.Query("SELECT key, value FROM config")
	if err != nil {
		return s, fmt.Errorf("failed to read config: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, fmt.Errorf("failed to scan config row: %w", err)
		}
		stored[key] = value
	}
	if err := rows.Err(); err != nil {
		return s, err
	}

	if v, ok := stored["mqtt_broker"]; ok && v != "" {
		s.Broker = v
	}
	if v, ok := stored["mqtt_port"]; ok {
		if port, err := strconv.Atoi(v); err == nil {
			s.Port = port
		}
	}
	for i := 0; i < classify.Positions; i++ {
		if v, ok := stored[fmt.Sprintf("sensor_label%d", i+1)]; ok && v != "" {
			s.Labels[i] = v
		}
		if v, ok := stored[fmt.Sprintf("default_position_sensor%d", i+1)]; ok {
			s.Channels[i] = v
		}
	}
	for i := 0; i < classify.Bands; i++ {
		if v, ok := stored[fmt.Sprintf("sensor_value_range_min%d", i+1)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				s.Bands[i].Min = n
			}
		}
		if v, ok := stored[fmt.Sprintf("sensor_value_range_max%d", i+1)]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				s.Bands[i].Max = n
			}
		}
	}
	if v, ok := stored["custom_fields"]; ok && v != "" {
		var fields []CustomField
		if err := json.Unmarshal([]byte(v), &fields); err == nil {
			s.CustomFields = fields
		}
	}
	return s, nil
}

// UpdateSettings upserts every settings key.
func (db *DB) UpdateSettings(s Settings) error {
	for key, value := range settingsKeys(s) {
		_, err := db.Exec(
			"REPLACE INTO config (key, value) VALUES (?, ?)",
			key, value,
		)
		if err != nil {
			return fmt.Errorf("failed to update config key %q: %w", key, err)
		}
	}
	return nil
}
