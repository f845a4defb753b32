package gallerydb

// Configuration constants for gallerydb operations
const (
	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755

	// Key layout. Record keys are "<store>/<id>" with the id zero padded so
	// that lexical key order is id order.
	idKeyWidth          = 20
	indexKeyPrefix      = "_idx/"
	seqKeyPrefix        = "_seq/"
	schemaKey           = "_meta/schema"
	journalFileName     = ".journal"
	undoJournalFileName = ".journal.undo"
)
