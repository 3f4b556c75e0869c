package registry

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tealeg/xlsx/v3"
)

// ErrMissingBindings is returned when a document lacks bindings a report needs.
var ErrMissingBindings = errors.New("registry: document is missing bindings")

// Inspector reads the defined names of a source document. Results are cached
// until the file's size or modification time changes.
type Inspector struct {
	mu    sync.Mutex
	cache map[string]inspection
}

type inspection struct {
	size    int64
	modTime time.Time
	names   map[string]struct{}
}

func NewInspector() *Inspector {
	return &Inspector{cache: make(map[string]inspection)}
}

// DefinedNames returns the workbook-level names defined in the document at path.
func (i *Inspector) DefinedNames(path string) (map[string]struct{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat document: %w", err)
	}

	i.mu.Lock()
	cached, ok := i.cache[path]
	i.mu.Unlock()
	if ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		return cached.names, nil
	}

	// Only the workbook part is needed; skip loading sheet rows.
	file, err := xlsx.OpenFile(path, xlsx.RowLimit(1))
	if err != nil {
		return nil, fmt.Errorf("open document %s: %w", path, err)
	}
	names := make(map[string]struct{}, len(file.DefinedNames))
	for _, dn := range file.DefinedNames {
		names[dn.Name] = struct{}{}
	}

	i.mu.Lock()
	i.cache[path] = inspection{size: info.Size(), modTime: info.ModTime(), names: names}
	i.mu.Unlock()
	return names, nil
}

// Check verifies that the document defines every binding the report references.
func (i *Inspector) Check(path string, rep Report) error {
	names, err := i.DefinedNames(path)
	if err != nil {
		return err
	}
	var missing []string
	for _, binding := range rep.Bindings() {
		if _, ok := names[binding]; !ok {
			missing = append(missing, binding)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: %s", ErrMissingBindings, strings.Join(missing, ", "))
	}
	return nil
}
