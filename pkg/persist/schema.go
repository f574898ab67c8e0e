package persist

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
)

//go:embed schema/snapshot.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "mem://persist/snapshot.json"

var snapshotSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(snapshotSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add snapshot schema: %w", err)
	}
	return c.Compile(snapshotSchemaURL)
})

// ValidateSnapshot checks that ps has the current format's shape.
func ValidateSnapshot(ps PersistedState) error {
	sch, err := snapshotSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(map[string]any(ps)); err != nil {
		return gameerr.Wrap(gameerr.CodeInvalidSnapshot, "snapshot does not match schema", err)
	}
	if _, ok := ps.Version(); !ok {
		return gameerr.New(gameerr.CodeInvalidSnapshot, "metadata.formatVersion must be a whole number")
	}
	return nil
}
