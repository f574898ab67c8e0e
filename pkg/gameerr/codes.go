// Package gameerr provides the coded error taxonomy shared by the runtime packages.
package gameerr

// Code is a machine-readable error code.
type Code string

// Category groups codes the way the runtime decides how to propagate them.
type Category string

const (
	CategoryUnknown   Category = "UnknownError"
	CategoryScene     Category = "SceneError"
	CategoryEffect    Category = "EffectError"
	CategoryChoice    Category = "ChoiceError"
	CategoryState     Category = "StateError"
	CategoryMigration Category = "MigrationError"
	CategorySave      Category = "SaveError"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Scene errors
	CodeSceneNotFound   Code = "SCENE_NOT_FOUND"
	CodeSceneDuplicate  Code = "SCENE_DUPLICATE"
	CodeSceneInvalid    Code = "SCENE_INVALID"
	CodeSceneHookFailed Code = "SCENE_HOOK_FAILED"
	CodeNoCurrentScene  Code = "SCENE_NONE_CURRENT"

	// Effect errors
	CodeEffectUnknown   Code = "EFFECT_UNKNOWN"
	CodeEffectDuplicate Code = "EFFECT_DUPLICATE"
	CodeEffectInvalid   Code = "EFFECT_INVALID_PAYLOAD"
	CodeEffectFailed    Code = "EFFECT_FAILED"

	// Choice errors
	CodeChoiceNotFound    Code = "CHOICE_NOT_FOUND"
	CodeChoiceUnavailable Code = "CHOICE_UNAVAILABLE"

	// State errors
	CodeInvalidState    Code = "STATE_INVALID"
	CodeInvalidSnapshot Code = "STATE_INVALID_SNAPSHOT"
	CodePluginDuplicate Code = "STATE_PLUGIN_DUPLICATE"

	// Migration errors
	CodeMigrationMissing   Code = "MIGRATION_MISSING"
	CodeMigrationFailed    Code = "MIGRATION_FAILED"
	CodeMigrationDuplicate Code = "MIGRATION_DUPLICATE"

	// Save errors
	CodeSaveFailed      Code = "SAVE_FAILED"
	CodeLoadFailed      Code = "SAVE_LOAD_FAILED"
	CodeGameNotFound    Code = "SAVE_GAME_NOT_FOUND"
	CodeLoadSuperseded  Code = "SAVE_LOAD_SUPERSEDED"
	CodeDeleteFailed    Code = "SAVE_DELETE_FAILED"
	CodeInvalidSaveID   Code = "SAVE_INVALID_ID"
	CodeAutoSaveInvalid Code = "SAVE_AUTOSAVE_INVALID"
)

var categories = map[Code]Category{
	CodeSceneNotFound:   CategoryScene,
	CodeSceneDuplicate:  CategoryScene,
	CodeSceneInvalid:    CategoryScene,
	CodeSceneHookFailed: CategoryScene,
	CodeNoCurrentScene:  CategoryScene,

	CodeEffectUnknown:   CategoryEffect,
	CodeEffectDuplicate: CategoryEffect,
	CodeEffectInvalid:   CategoryEffect,
	CodeEffectFailed:    CategoryEffect,

	CodeChoiceNotFound:    CategoryChoice,
	CodeChoiceUnavailable: CategoryChoice,

	CodeInvalidState:    CategoryState,
	CodeInvalidSnapshot: CategoryState,
	CodePluginDuplicate: CategoryState,

	CodeMigrationMissing:   CategoryMigration,
	CodeMigrationFailed:    CategoryMigration,
	CodeMigrationDuplicate: CategoryMigration,

	CodeSaveFailed:      CategorySave,
	CodeLoadFailed:      CategorySave,
	CodeGameNotFound:    CategorySave,
	CodeLoadSuperseded:  CategorySave,
	CodeDeleteFailed:    CategorySave,
	CodeInvalidSaveID:   CategorySave,
	CodeAutoSaveInvalid: CategorySave,
}

// Category returns the category the code belongs to.
func (c Code) Category() Category {
	if cat, ok := categories[c]; ok {
		return cat
	}
	return CategoryUnknown
}

// Fatal reports whether errors with this code must abort the surrounding
// operation instead of being recovered locally.
func (c Code) Fatal() bool {
	switch c.Category() {
	case CategoryState, CategoryMigration:
		return true
	}
	return false
}
