package messages

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

//go:embed messages.json
var defaultMessages []byte

type MessageText struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Render substitutes {connection} and {institution} in the title and body.
func (m MessageText) Render(connectionID, institution string) (title, body string) {
	if institution == "" {
		institution = "unknown institution"
	}
	r := strings.NewReplacer("{connection}", connectionID, "{institution}", institution)
	return r.Replace(m.Title), r.Replace(m.Body)
}

type Messages struct {
	ConnectionRejected MessageText `json:"connection_rejected"`
}

var (
	loaded   Messages
	loadOnce sync.Once
	loadErr  error
)

// Load reads the alert texts and caches the result. An empty path uses the
// built-in texts. Safe to call from multiple goroutines.
func Load(path string) (*Messages, error) {
	loadOnce.Do(func() {
		data := defaultMessages
		if path != "" {
			var err error
			data, err = os.ReadFile(path)
			if err != nil {
				loadErr = fmt.Errorf("failed to read messages file: %w", err)
				return
			}
		}
		if err := json.Unmarshal(data, &loaded); err != nil {
			loadErr = fmt.Errorf("failed to parse messages file: %w", err)
		}
	})
	if loadErr != nil {
		return nil, loadErr
	}
	return &loaded, nil
}

// Default returns the built-in texts without touching the cache.
func Default() *Messages {
	var m Messages
	if err := json.Unmarshal(defaultMessages, &m); err != nil {
		panic(fmt.Sprintf("messages: built-in texts are invalid: %v", err))
	}
	return &m
}
