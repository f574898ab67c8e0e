package storage

import (
	"context"
	"encoding/json"
	"regexp"
	"time"
)

// Storage is the durable home for saved games. Implementations must be safe
// for concurrent use.
type Storage interface {
	// Save writes rec under id, replacing any existing record.
	Save(ctx context.Context, id string, rec Record) error
	// Load returns the record for id, or nil with no error when absent.
	Load(ctx context.Context, id string) (*Record, error)
	// List returns the metadata of every stored save keyed by id.
	List(ctx context.Context) (map[string]Metadata, error)
	// Delete removes id and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Clearer is implemented by backends that can drop every save at once.
type Clearer interface {
	ClearAll(ctx context.Context) error
}

// Record is one stored save: its metadata and the encoded snapshot.
type Record struct {
	Metadata Metadata `json:"metadata"`
	Data     []byte   `json:"data"`
}

// Metadata describes a save without decoding its snapshot.
type Metadata struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	PlayTime          time.Duration     `json:"-"`
	EngineVersion     string            `json:"engineVersion,omitempty"`
	SaveFormatVersion int               `json:"saveFormatVersion"`
	CurrentSceneID    string            `json:"currentSceneId,omitempty"`
	Custom            map[string]string `json:"custom,omitempty"`
}

type metadataJSON Metadata

// MarshalJSON writes PlayTime as whole milliseconds under playTimeMs.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		metadataJSON
		PlayTimeMs int64 `json:"playTimeMs"`
	}{metadataJSON(m), m.PlayTime.Milliseconds()})
}

// UnmarshalJSON reads playTimeMs back into PlayTime.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var aux struct {
		metadataJSON
		PlayTimeMs int64 `json:"playTimeMs"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Metadata(aux.metadataJSON)
	m.PlayTime = time.Duration(aux.PlayTimeMs) * time.Millisecond
	return nil
}

// Clone returns a copy that shares nothing with m.
func (m Metadata) Clone() Metadata {
	if m.Custom != nil {
		custom := make(map[string]string, len(m.Custom))
		for k, v := range m.Custom {
			custom[k] = v
		}
		m.Custom = custom
	}
	return m
}

// Clone returns a copy that shares nothing with r.
func (r Record) Clone() Record {
	return Record{
		Metadata: r.Metadata.Clone(),
		Data:     append([]byte(nil), r.Data...),
	}
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id is usable as a save id: 1 to 128 characters of
// letters, digits, underscore and hyphen.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
