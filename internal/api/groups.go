package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Witriol/clipdl/internal/library"
)

// Groups is the free-form group document kept for the UI. The daemon only
// stores it; clips reference groups by key through group_id.
type Groups struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
	path string
}

func NewGroups(stateDir string) (*Groups, error) {
	g := &Groups{data: map[string]json.RawMessage{}, path: filepath.Join(stateDir, "groups.json")}
	var data map[string]json.RawMessage
	if err := library.ReadJSON(g.path, &data); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load groups: %w", err)
		}
	} else if data != nil {
		g.data = data
	}
	return g, nil
}

func (g *Groups) Get() map[string]json.RawMessage {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(g.data))
	for k, v := range g.data {
		out[k] = v
	}
	return out
}

// Replace stores and saves a new group document.
func (g *Groups) Replace(data map[string]json.RawMessage) error {
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.data = data
	if err := library.WriteJSON(g.path, data); err != nil {
		return fmt.Errorf("write groups: %w", err)
	}
	return nil
}
