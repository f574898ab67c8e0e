package story

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jwebster45206/story-runtime/pkg/gameerr"
)

//go:embed schema/story.json
var storySchemaJSON []byte

const storySchemaURL = "mem://story/story.json"

var storySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(storySchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse story schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(storySchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add story schema: %w", err)
	}
	return c.Compile(storySchemaURL)
})

// Validate checks a story document against the story schema and then checks
// that every scene reference resolves.
func Validate(data []byte) error {
	sch, err := storySchema()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return gameerr.Wrap(gameerr.CodeSceneInvalid, "story is not valid JSON", err)
	}
	if err := sch.Validate(doc); err != nil {
		return gameerr.Wrap(gameerr.CodeSceneInvalid, "story does not match schema", err)
	}

	var s Story
	if err := json.Unmarshal(data, &s); err != nil {
		return gameerr.Wrap(gameerr.CodeSceneInvalid, "failed to unmarshal story", err)
	}
	if err := s.Check(); err != nil {
		return gameerr.Wrap(gameerr.CodeSceneInvalid, "story references are inconsistent", err)
	}
	return nil
}

// Check verifies referential integrity: the start scene and every choice
// target exist, choice ids are unique within a scene and visited conditions
// name real scenes.
func (s *Story) Check() error {
	var errs []error
	if _, ok := s.SceneDefs[s.Start]; !ok {
		errs = append(errs, fmt.Errorf("start scene %q does not exist", s.Start))
	}

	for _, id := range s.SceneIDs() {
		def := s.SceneDefs[id]
		for i, v := range def.Variants {
			errs = append(errs, s.checkWhen(v.When, fmt.Sprintf("scene %s variant %d", id, i))...)
		}

		seen := make(map[string]bool, len(def.Choices))
		for _, c := range def.Choices {
			where := fmt.Sprintf("scene %s choice %s", id, c.ID)
			if seen[c.ID] {
				errs = append(errs, fmt.Errorf("scene %s has duplicate choice id %q", id, c.ID))
			}
			seen[c.ID] = true

			if c.Next != "" {
				errs = append(errs, s.checkTarget(c.Next, where)...)
			}
			for _, b := range c.Branches {
				errs = append(errs, s.checkTarget(b.Next, where+" branch")...)
				errs = append(errs, s.checkWhen(&b.When, where+" branch")...)
			}
			errs = append(errs, s.checkWhen(c.When, where)...)
		}
	}
	return errors.Join(errs...)
}

func (s *Story) checkTarget(target, where string) []error {
	if _, ok := s.SceneDefs[target]; !ok {
		return []error{fmt.Errorf("%s targets unknown scene %q", where, target)}
	}
	return nil
}

func (s *Story) checkWhen(w *When, where string) []error {
	if w == nil {
		return nil
	}
	var errs []error
	for _, id := range append(append([]string{}, w.Visited...), w.NotVisited...) {
		if _, ok := s.SceneDefs[id]; !ok {
			errs = append(errs, fmt.Errorf("%s has a condition on unknown scene %q", where, id))
		}
	}
	return errs
}
