// Package profile implements the profile attribute store: global attributes
// ("bucket") and per-service overrides ("overlays") keyed by a numeric
// profile id.
//
// # Operations
//
//	Show           id, keys           requested global attributes that exist
//	ShowService    id, service, keys  requested attributes of one overlay
//	ShowOverlay    id, service, keys  overlay values, falling back to global
//	Set            id, entries        write global attributes, creating the profile
//	SetService     id, service, ...   write overlay attributes (profile must exist)
//	Remove         id                 delete the profile
//	RemoveService  id, service        delete one overlay
//
// An entry with an empty value removes its key. The set and unset halves of
// one call reach the backend as a single combined update.
//
// # Service gating
//
// Operations naming a service ask the directory first. An unknown service
// fails with ServiceNotFound before the backend is touched; a directory
// failure surfaces as an internal error carrying the directory's reason.
// The check is not transactional with the mutation that follows.
//
// # Overlay resolution
//
// ShowOverlay reads the overlay for every requested key, then reads the
// global bucket for the keys the overlay lacked, and returns the union.
// That is always exactly two backend reads.
//
// # Lazy creation
//
// A global Set that matches no document inserts one holding the non-empty
// entries. If another Set wins the insert race the update is applied once
// more to the winner's document. SetService never creates a profile.
//
// # Errors
//
// Every failure is an *Error whose Kind is one of KindNotFound,
// KindServiceNotFound, KindStorage, KindValidation or KindInternal. Use
// errors.Is with the Err* sentinels to branch on kind. Nothing is retried
// apart from the lazy creation race above.
package profile
