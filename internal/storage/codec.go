package storage

import (
	"encoding/json"
	"errors"

	"noesis/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp fills the version envelope on a snapshot before persisting.
func Stamp(snapshot model.Snapshot) model.Snapshot {
	snapshot.SchemaVersion = CurrentSchemaVersion
	snapshot.CodecVersion = CurrentCodecVersion
	return snapshot
}

func EncodeSnapshot(s model.Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(data []byte) (model.Snapshot, error) {
	var snapshot model.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return model.Snapshot{}, err
	}
	if err := checkVersion(snapshot.VersionedRecord); err != nil {
		return model.Snapshot{}, err
	}
	return snapshot, nil
}

func EncodeEvents(events []model.SingularityEvent) ([]byte, error) {
	return json.Marshal(events)
}

func DecodeEvents(data []byte) ([]model.SingularityEvent, error) {
	var events []model.SingularityEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
