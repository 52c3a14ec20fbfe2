package archive

import "errors"

// Sentinel errors for archive sessions. Callers match them with errors.Is;
// the returned errors carry the failing object or item and the cause.
var (
	// ErrCodecInit is returned when the codec cannot be set up on the
	// storage stream.
	ErrCodecInit = errors.New("archive: codec initialization failed")

	// ErrIOOpen is returned when the storage object cannot be opened.
	ErrIOOpen = errors.New("archive: storage open failed")

	// ErrFormat is returned when a container does not start with the
	// manifest entry.
	ErrFormat = errors.New("archive: not a collection archive")

	// ErrManifest is returned when the manifest cannot be encoded or
	// decoded.
	ErrManifest = errors.New("archive: invalid manifest")

	// ErrRead is returned when reading the container fails.
	ErrRead = errors.New("archive: read failed")

	// ErrWrite is returned when writing the container or an extracted item
	// fails.
	ErrWrite = errors.New("archive: write failed")

	// ErrWrongMode is returned for operations that do not belong to the
	// session's mode, such as AddItem on a read session.
	ErrWrongMode = errors.New("archive: operation not valid in this mode")

	// ErrClosed is returned for operations on a closed session.
	ErrClosed = errors.New("archive: session closed")

	// ErrNoCurrentEntry is returned when no entry is positioned: before the
	// first Next or after the container is exhausted.
	ErrNoCurrentEntry = errors.New("archive: no current entry")

	// ErrEntryConsumed is returned when the payload of the current entry
	// has already been read.
	ErrEntryConsumed = errors.New("archive: entry payload already consumed")

	// ErrItemOutOfRange is returned when the container holds more entries
	// than the manifest lists.
	ErrItemOutOfRange = errors.New("archive: entry has no manifest item")

	// ErrSourceUnavailable is returned when an item's source cannot be
	// packed.
	ErrSourceUnavailable = errors.New("archive: item source unavailable")
)
