// Package prompts loads the system prompts used by the generation
// capabilities. Defaults are compiled in and any of them can be replaced by
// a file of the same name in a prompts directory.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// Prompt keys.
const (
	RoleSystem = "role_system"
	TaskJx     = "task_jx"
	TaskResult = "task_result"
	TaskSplit  = "task_split"
)

// Keys lists every prompt the run needs.
var Keys = []string{RoleSystem, TaskJx, TaskResult, TaskSplit}

//go:embed defaults/*.md
var defaultFS embed.FS

// Set maps prompt keys to prompt text.
type Set map[string]string

// Get returns the prompt for key, or an empty string.
func (s Set) Get(key string) string {
	return s[key]
}

// Defaults returns the compiled-in prompts.
func Defaults() Set {
	set := make(Set, len(Keys))
	for _, key := range Keys {
		data, err := defaultFS.ReadFile("defaults/" + key + ".md")
		if err != nil {
			// Embedded files are fixed at build time.
			panic(fmt.Sprintf("missing embedded prompt %s: %v", key, err))
		}
		set[key] = string(data)
	}
	return set
}

// Load returns the defaults with overrides from dir applied. A file named
// <key>.md in dir replaces the default for that key. An empty dir returns the
// defaults. A missing dir is an error.
func Load(dir string) (Set, error) {
	set := Defaults()
	if dir == "" {
		return set, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("prompts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompts directory %s is not a directory", dir)
	}

	for _, key := range Keys {
		path := filepath.Join(dir, key+".md")
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt %s: %w", key, err)
		}
		if len(data) == 0 {
			log.Printf("[prompts] %s is empty, keeping default", path)
			continue
		}
		set[key] = string(data)
	}
	return set, nil
}

// Summary returns one line per prompt with its size and a short preview.
func (s Set) Summary() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		preview := []rune(s[k])
		if len(preview) > 50 {
			preview = preview[:50]
		}
		lines = append(lines, fmt.Sprintf("%s: %d characters: %q", k, len(s[k]), string(preview)))
	}
	return lines
}
