package readiness

import (
	"strings"

	"github.com/benaskins/sidecar/internal/driver"
)

// MarkerVersion names the backend log format the default markers were
// written against. Bump it alongside DefaultMarkers whenever the backend's
// startup messages change.
const MarkerVersion = "uvicorn-0.2x"

// Markers are case-sensitive substrings of the backend's own startup log.
// Matching free text is fragile: the backend offers no health handshake on
// the output streams, so these strings are a contract with its logging
// format. The health probe in internal/health is the replacement once the
// backend can be relied on to serve /health early.
type Markers struct {
	Stdout []string `yaml:"stdout,omitempty"`
	Stderr []string `yaml:"stderr,omitempty"`
}

// DefaultMarkers returns the markers for the uvicorn/FastAPI backend.
// Stderr carries a narrower set: some platforms route benign startup
// confirmations there, but not the application lifecycle messages.
func DefaultMarkers() Markers {
	return Markers{
		Stdout: []string{
			"Application startup complete",
			"Uvicorn running on",
			"Started server process",
			"on port",
		},
		Stderr: []string{
			"on port",
			"Uvicorn running",
		},
	}
}

// Classifier maps an output line to "this line means ready". It holds no
// state and is safe for concurrent use.
type Classifier struct {
	markers Markers
}

// NewClassifier builds a classifier. Empty marker lists fall back to the
// defaults for that stream.
func NewClassifier(m Markers) Classifier {
	def := DefaultMarkers()
	if len(m.Stdout) == 0 {
		m.Stdout = def.Stdout
	}
	if len(m.Stderr) == 0 {
		m.Stderr = def.Stderr
	}
	return Classifier{markers: m}
}

// Markers returns a copy of the active marker set.
func (c Classifier) Markers() Markers {
	return Markers{
		Stdout: append([]string(nil), c.markers.Stdout...),
		Stderr: append([]string(nil), c.markers.Stderr...),
	}
}

// Classify reports whether line, read from stream, indicates readiness.
func (c Classifier) Classify(line string, stream driver.Stream) bool {
	_, ok := c.Match(line, stream)
	return ok
}

// Match is Classify that also returns the marker that matched.
func (c Classifier) Match(line string, stream driver.Stream) (string, bool) {
	var set []string
	switch stream {
	case driver.Stdout:
		set = c.markers.Stdout
	case driver.Stderr:
		set = c.markers.Stderr
	default:
		return "", false
	}
	for _, m := range set {
		if m != "" && strings.Contains(line, m) {
			return m, true
		}
	}
	return "", false
}

// SourceFor maps an output stream to the readiness source it would latch.
func SourceFor(stream driver.Stream) Source {
	if stream == driver.Stderr {
		return SourceStderr
	}
	return SourceStdout
}
