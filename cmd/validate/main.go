package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jwebster45206/story-runtime/pkg/story"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <story.json>...\n", os.Args[0])
		os.Exit(1)
	}

	failed := false
	for _, filename := range os.Args[1:] {
		validator := &StoryValidator{}
		if err := validator.validateFile(filename); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			failed = true
			continue
		}
		fmt.Printf("%s is valid!\n", filename)
	}

	if failed {
		os.Exit(1)
	}
}

// StoryValidator adds authoring conventions on top of story.Validate.
type StoryValidator struct {
	errors []string
}

func (v *StoryValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	// Validate filename format
	baseName := filepath.Base(filename)
	if !strings.HasSuffix(baseName, ".json") {
		return fmt.Errorf("story file must have .json extension: %s", baseName)
	}

	nameWithoutExt := strings.TrimSuffix(baseName, ".json")
	if !isValidStoryFilename(nameWithoutExt) {
		return fmt.Errorf("story filename '%s' must be lowercase snake_case (e.g., my_story.json, not my-story.json or MyStory.json)", baseName)
	}

	s, err := story.LoadFile(filename)
	if err != nil {
		return err
	}

	v.errors = nil
	v.validateStory(s)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}

	return nil
}

func (v *StoryValidator) validateStory(s *story.Story) {
	for _, sceneID := range s.SceneIDs() {
		v.validateIDFormat("scene ID", sceneID)
		def := s.SceneDefs[sceneID]

		if strings.TrimSpace(def.Content) == "" && len(def.Variants) == 0 {
			v.addError(fmt.Sprintf("scene %s has no content", sceneID))
		}

		for _, c := range def.Choices {
			v.validateIDFormat(fmt.Sprintf("choice ID in scene %s", sceneID), c.ID)
			if strings.TrimSpace(c.Label) == "" {
				v.addError(fmt.Sprintf("choice %s in scene %s has an empty label", c.ID, sceneID))
			}
			if c.Next == "" && len(c.Branches) > 0 {
				v.addError(fmt.Sprintf("choice %s in scene %s has branches but no default next scene", c.ID, sceneID))
			}
		}
	}
}

func (v *StoryValidator) validateIDFormat(fieldName, id string) {
	if id == "" {
		return
	}

	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase snake_case", fieldName, id))
	}
}

func (v *StoryValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var (
	validIDRegex       = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)
	validFilenameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)
)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}

func isValidStoryFilename(name string) bool {
	// Allow 'x.' prefix for experimental stories
	name = strings.TrimPrefix(name, "x.")
	return validFilenameRegex.MatchString(name)
}
