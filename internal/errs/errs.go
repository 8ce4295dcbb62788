// Package errs defines the error taxonomy shared by every bird component.
//
// Every error that crosses a package boundary in this module is wrapped in
// an *Error carrying one of the Kind values below, so callers (the CLI in
// particular) can make a single switch on Kind rather than on error string
// contents or package-specific sentinel types.
package errs

import "fmt"

// Kind classifies an error by its semantic category, not its Go type.
type Kind int

const (
	// IO marks an underlying filesystem or embedded-engine error.
	IO Kind = iota
	// Storage marks a semantic storage violation (bad URI, missing blob
	// file, invalid date, unknown storage_type).
	Storage
	// NotInitialized marks an operation attempted against a data
	// directory that has not been `bird init`'d.
	NotInitialized
	// AlreadyInitialized marks a `bird init` attempted against an
	// already-initialized data directory.
	AlreadyInitialized
	// Config marks a parse/validate failure in config.toml, format-hints.toml,
	// or event-formats.toml.
	Config
	// NotFound marks a lookup with no matching row.
	NotFound
	// Extension marks a required embedded-engine extension that could
	// not be installed or loaded.
	Extension
	// InvalidPath marks a filename sanitization or path derivation that
	// produced an unsafe value.
	InvalidPath
)

func (k Kind) String() string {
	switch k {
	case IO:
		return "io"
	case Storage:
		return "storage"
	case NotInitialized:
		return "not_initialized"
	case AlreadyInitialized:
		return "already_initialized"
	case Config:
		return "config"
	case NotFound:
		return "not_found"
	case Extension:
		return "extension"
	case InvalidPath:
		return "invalid_path"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind Kind
	// Path is the offending filesystem path or storage_ref, when one exists.
	Path string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Path != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

func wrap(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// IOf wraps err as a Kind IO error at path.
func IOf(path string, err error) *Error { return wrap(IO, path, err) }

// Storagef wraps err as a Kind Storage error, formatting msg like fmt.Errorf.
func Storagef(format string, args ...any) *Error {
	return wrap(Storage, "", fmt.Errorf(format, args...))
}

// NotInitializedf reports that root is not an initialized bird store.
func NotInitializedf(root string) *Error {
	return wrap(NotInitialized, root, fmt.Errorf("data directory is not initialized; run 'bird init' first"))
}

// AlreadyInitializedf reports that root is already an initialized bird store.
func AlreadyInitializedf(root string) *Error {
	return wrap(AlreadyInitialized, root, fmt.Errorf("data directory is already initialized"))
}

// Configf wraps err as a Kind Config error.
func Configf(path string, err error) *Error { return wrap(Config, path, err) }

// NotFoundf reports that id was not found in the given entity kind.
func NotFoundf(entity, id string) *Error {
	return wrap(NotFound, id, fmt.Errorf("%s not found", entity))
}

// Extensionf wraps err as a Kind Extension error.
func Extensionf(name string, err error) *Error { return wrap(Extension, name, err) }

// InvalidPathf reports that path failed sanitization or derivation.
func InvalidPathf(path string, err error) *Error { return wrap(InvalidPath, path, err) }
