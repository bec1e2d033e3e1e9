package i18n

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// DefaultLanguage is the source language of every message.
var DefaultLanguage = language.English

// Catalog holds the active message files and hands out translations.
type Catalog struct {
	mu     sync.RWMutex
	fsys   fs.FS
	bundle *goi18n.Bundle
	langs  []string
}

// NewCatalog loads every active.<lang>.toml found at the root of fsys.
func NewCatalog(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{fsys: fsys}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the message files. On error the previous bundle stays active.
func (c *Catalog) Reload() error {
	bundle := goi18n.NewBundle(DefaultLanguage)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	files, err := fs.Glob(c.fsys, "active.*.toml")
	if err != nil {
		return fmt.Errorf("list message files: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no active.*.toml message files found")
	}
	for _, name := range files {
		data, err := fs.ReadFile(c.fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}

	langs := make([]string, 0, len(files))
	for _, tag := range bundle.LanguageTags() {
		langs = append(langs, tag.String())
	}
	sort.Strings(langs)

	c.mu.Lock()
	c.bundle = bundle
	c.langs = langs
	c.mu.Unlock()
	return nil
}

// Languages lists the languages that have a message file.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.langs...)
}

// Translate returns the message for id in lang. Unknown languages fall back
// to English and unknown ids to the id itself.
func (c *Catalog) Translate(lang, id string, data map[string]any) string {
	c.mu.RLock()
	bundle := c.bundle
	c.mu.RUnlock()

	loc := goi18n.NewLocalizer(bundle, lang, DefaultLanguage.String())
	// a fallback to English still reports an error alongside the message
	msg, _ := loc.Localize(&goi18n.LocalizeConfig{
		MessageID:    id,
		TemplateData: data,
	})
	if msg == "" {
		return id
	}
	return msg
}

// Watch reloads the catalog whenever a message file in dir changes. It
// returns when ctx is done.
func (c *Catalog) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isMessageFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				log.Printf("Failed to reload messages after %s: %v", ev, err)
				continue
			}
			log.Printf("Reloaded messages (%s)", filepath.Base(ev.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Message watcher error: %v", err)
		}
	}
}

func isMessageFile(name string) bool {
	base := path.Base(filepath.ToSlash(name))
	return strings.HasPrefix(base, "active.") && strings.HasSuffix(base, ".toml")
}
