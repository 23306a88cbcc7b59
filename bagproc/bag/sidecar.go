package bag

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Sidecar holds the recorder-written metadata.yaml that accompanies a bag
// store. Bags without one are still valid; everything here is advisory.
type Sidecar struct {
	BagFileInformation struct {
		Version           int    `yaml:"version"`
		StorageIdentifier string `yaml:"storage_identifier"`
		Duration          struct {
			Nanoseconds int64 `yaml:"nanoseconds"`
		} `yaml:"duration"`
		MessageCount           int64 `yaml:"message_count"`
		TopicsWithMessageCount []struct {
			TopicMetadata struct {
				Name                string `yaml:"name"`
				Type                string `yaml:"type"`
				SerializationFormat string `yaml:"serialization_format"`
			} `yaml:"topic_metadata"`
			MessageCount int64 `yaml:"message_count"`
		} `yaml:"topics_with_message_count"`
	} `yaml:"rosbag2_bagfile_information"`
}

// ReadSidecar parses the metadata.yaml beside a bag store, if present.
// A missing sidecar returns (nil, nil).
func ReadSidecar(dir string) (*Sidecar, error) {
	path := filepath.Join(dir, "metadata.yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}

	var sc Sidecar
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return &sc, nil
}
