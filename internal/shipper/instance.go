package shipper

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceFileName holds the persisted instance ID inside the cache dir.
const instanceFileName = "id"

// EnsureInstanceID returns the instance ID stored in dir, creating one
// if needed. When dir cannot be used an ephemeral ID is returned.
func EnsureInstanceID(dir string) string {
	if dir == "" {
		return uuid.New().String()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return uuid.New().String() // Fallback to ephemeral ID
	}

	idFile := filepath.Join(dir, instanceFileName)
	if data, err := os.ReadFile(idFile); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String()
		}
	}

	newID := uuid.New().String()
	_ = os.WriteFile(idFile, []byte(newID), 0644)
	return newID
}
