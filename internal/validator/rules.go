package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules are the tunable limits and required columns for a submission.
type Rules struct {
	MaxArchiveEntries             int      `yaml:"max_archive_entries"`
	MaxUncompressedBytes          int64    `yaml:"max_uncompressed_bytes"`
	LadderExtensions              []string `yaml:"ladder_extensions"`
	ClassificationRequiredColumns []string `yaml:"classification_required_columns"`
	ClassificationLogicColumn     string   `yaml:"classification_logic_column"`
	DeviceCommentRequiredColumns  []string `yaml:"device_comment_required_columns"`
	DeviceColumn                  string   `yaml:"device_column"`
	CommentColumn                 string   `yaml:"comment_column"`
}

// DefaultRules returns the rules used when no rules file is configured.
func DefaultRules() Rules {
	return Rules{
		MaxArchiveEntries:             5000,
		MaxUncompressedBytes:          1 << 30,
		LadderExtensions:              []string{".csv"},
		ClassificationRequiredColumns: []string{"logic_name"},
		ClassificationLogicColumn:     "logic_name",
		DeviceCommentRequiredColumns:  []string{"device", "comment"},
		DeviceColumn:                  "device",
		CommentColumn:                 "comment",
	}
}

// LoadRules overlays the YAML file at path on DefaultRules. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	if rules.MaxArchiveEntries <= 0 || rules.MaxUncompressedBytes <= 0 {
		return Rules{}, fmt.Errorf("rules file %s: archive limits must be positive", path)
	}
	return rules, nil
}
