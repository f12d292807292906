package contacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/saravenpi/alljobs-chat/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("contact not found")

// Contact is a local nickname for one or more ALL JOBS accounts.
type Contact struct {
	Name    string   `yaml:"name"`
	UserIDs []string `yaml:"user_ids"`
	Note    string   `yaml:"note,omitempty"`
}

// Book is a directory of YAML contact files, one per contact.
type Book struct {
	dir string
	ttl time.Duration

	mu        sync.RWMutex
	cache     []Contact
	lookup    map[string]string
	cacheTime time.Time
}

func NewBook(dir string) *Book {
	return &Book{dir: dir, ttl: 30 * time.Second}
}

func (b *Book) Dir() string {
	return b.dir
}

// sanitizeFilename converts a contact name to a safe filename.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")
	name = strings.ReplaceAll(name, ":", "-")
	return name
}

func (b *Book) path(name string) string {
	return filepath.Join(b.dir, sanitizeFilename(name)+".yml")
}

// Save writes the contact to <dir>/<name>.yml.
func (b *Book) Save(c Contact) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("contact name cannot be empty")
	}
	ids := c.UserIDs[:0:0]
	for _, id := range c.UserIDs {
		if id = normalizeID(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("contact %q has no user id", c.Name)
	}
	c.UserIDs = ids

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("failed to create contacts directory: %w", err)
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}
	if err := os.WriteFile(b.path(c.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write contact file: %w", err)
	}

	b.Invalidate()
	return nil
}

// Load reads a contact by name.
func (b *Book) Load(name string) (*Contact, error) {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to read contact file: %w", err)
	}

	var c Contact
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse contact file: %w", err)
	}
	return &c, nil
}

func (b *Book) Delete(name string) error {
	if err := os.Remove(b.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	b.Invalidate()
	return nil
}

// List returns every contact sorted by name. Results are cached for 30
// seconds; Save and Delete drop the cache.
func (b *Book) List() ([]Contact, error) {
	b.mu.RLock()
	if b.fresh() {
		defer b.mu.RUnlock()
		return b.cache, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fresh() {
		return b.cache, nil
	}

	entries, err := os.ReadDir(b.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read contacts directory: %w", err)
	}

	contacts := []Contact{}
	lookup := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			continue
		}
		var c Contact
		if err := yaml.Unmarshal(data, &c); err != nil || c.Name == "" {
			continue
		}
		contacts = append(contacts, c)
		for _, id := range c.UserIDs {
			lookup[normalizeID(id)] = c.Name
		}
	}
	sort.Slice(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})

	b.cache = contacts
	b.lookup = lookup
	b.cacheTime = time.Now()
	return contacts, nil
}

func (b *Book) fresh() bool {
	return b.cache != nil && time.Since(b.cacheTime) < b.ttl
}

// Invalidate forces the next List to re-read the directory.
func (b *Book) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cacheTime = time.Time{}
}

// NameFor returns the nickname saved for a user id, or "".
func (b *Book) NameFor(userID string) string {
	if userID == "" {
		return ""
	}
	if _, err := b.List(); err != nil {
		return ""
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookup[normalizeID(userID)]
}

// Resolve is the name to show for u: the nickname if one exists, else the
// name the server sent.
func (b *Book) Resolve(u models.User) string {
	if b != nil {
		if name := b.NameFor(u.ID); name != "" {
			return name
		}
	}
	return u.DisplayName()
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
