// Package descriptor reads, lists and validates plugin manifests.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
)

// DecodeError reports a manifest that exists but is not valid JSON.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Store resolves plugin directories below a single root.
type Store struct {
	root       string
	namespaces map[string]string
	denylist   map[string]struct{}
	validator  *Validator
	log        logger.Logger
}

type Option func(*Store)

// WithNamespaces overrides the publish namespace of individual plugins.
func WithNamespaces(namespaces map[string]string) Option {
	return func(s *Store) {
		for k, v := range namespaces {
			s.namespaces[k] = v
		}
	}
}

// WithDenylist adds identifiers to the built-in reserved list.
func WithDenylist(ids ...string) Option {
	return func(s *Store) {
		for _, id := range ids {
			s.denylist[strings.ToLower(id)] = struct{}{}
		}
	}
}

func WithLogger(log logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		root:       root,
		namespaces: make(map[string]string),
		denylist:   make(map[string]struct{}),
		validator:  NewValidator(),
		log:        logger.GetLogger(),
	}
	for _, id := range constants.ReservedPluginIDs {
		s.denylist[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Root() string { return s.root }

func (s *Store) Dir(id string) string       { return filepath.Join(s.root, id) }
func (s *Store) SourceDir(id string) string { return filepath.Join(s.root, id, constants.SourceDir) }
func (s *Store) MigrationDir(id string) string {
	return filepath.Join(s.root, id, constants.MigrationsDir)
}
func (s *Store) PublicDir(id string) string { return filepath.Join(s.root, id, constants.PublicDir) }
func (s *Store) LangDir(id string) string   { return filepath.Join(s.root, id, constants.LangDir) }
func (s *Store) Screenshot(id string) string {
	return filepath.Join(s.root, id, constants.ScreenshotFile)
}

// Namespace is the directory name assets and translations are published under.
func (s *Store) Namespace(id string) string {
	if ns, ok := s.namespaces[id]; ok && ns != "" {
		return ns
	}
	return "plugins/" + id
}

// Describe parses the manifest of the plugin. A missing directory or manifest yields nil, nil.
func (s *Store) Describe(id string) (*models.PluginDescriptor, error) {
	if !safeID(id) {
		return nil, nil
	}
	path := filepath.Join(s.Dir(id), constants.ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var desc models.PluginDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		s.log.Warn("Plugin manifest is not valid JSON", logger.Fields{
			"plugin": id,
			"path":   path,
			"error":  err.Error(),
		})
		return nil, &DecodeError{Path: path, Err: err}
	}
	desc.Dir = id
	return &desc, nil
}

// IsDenied checks the directory name and, when readable, the manifest id.
func (s *Store) IsDenied(id string) bool {
	if s.Denied(id) {
		return true
	}
	desc, err := s.Describe(id)
	if err != nil || desc == nil {
		return false
	}
	return s.Denied(desc.ID)
}

// Denied reports whether any of ids is on the denylist. Empty ids are ignored.
func (s *Store) Denied(ids ...string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := s.denylist[strings.ToLower(id)]; ok {
			return true
		}
	}
	return false
}

// Validate checks the descriptor against the manifest rules and logs failures.
func (s *Store) Validate(desc *models.PluginDescriptor, strict bool) ValidationResult {
	result := s.validator.Validate(desc, strict)
	if !result.Valid {
		s.log.Info("Plugin manifest failed validation", logger.Fields{
			"plugin": desc.Dir,
			"errors": result.JSON(),
		})
	}
	return result
}

// ValidateStrict is the throwing variant used when publishing plugins: id is mandatory.
func (s *Store) ValidateStrict(desc *models.PluginDescriptor) error {
	result := s.Validate(desc, true)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidManifest, result.Summary())
}

// Check is the gate every lifecycle operation passes first. Fatal filesystem errors are returned as err.
func (s *Store) Check(id string) (*models.PluginDescriptor, *models.Result, error) {
	if s.Denied(id) {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Plugin %s is not allowed", id)), nil
	}

	if !safeID(id) {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Plugin %s does not exist", id)), nil
	}
	info, err := os.Stat(s.Dir(id))
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Plugin %s does not exist", id)), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("stat plugin %s: %w", id, err)
	}

	desc, err := s.Describe(id)
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Invalid %s for plugin %s", constants.ManifestFile, id)), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if desc == nil {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Missing %s for plugin %s", constants.ManifestFile, id)), nil
	}

	if s.Denied(desc.ID) {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Plugin %s is not allowed", id)), nil
	}

	if result := s.Validate(desc, false); !result.Valid {
		return nil, models.Failure(models.CodeValidation, fmt.Sprintf("Invalid %s for plugin %s: %s", constants.ManifestFile, id, result.Summary())), nil
	}
	return desc, nil, nil
}

// Discover lists every plugin directory, with or without a manifest.
func (s *Store) Discover() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan plugins directory %s: %w", s.root, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Installed lists plugin directories that carry a manifest.
func (s *Store) Installed() ([]string, error) {
	dirs, err := s.Discover()
	if err != nil {
		return nil, err
	}
	installed := make([]string, 0, len(dirs))
	for _, id := range dirs {
		if _, err := os.Stat(filepath.Join(s.Dir(id), constants.ManifestFile)); err == nil {
			installed = append(installed, id)
		}
	}
	return installed, nil
}

// InstalledIDs maps publisher ids to installed versions, the payload of an update check.
func (s *Store) InstalledIDs() (map[string]string, error) {
	installed, err := s.Installed()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(installed))
	for _, dir := range installed {
		desc, err := s.Describe(dir)
		if err != nil || desc == nil || desc.ID == "" {
			continue
		}
		ids[desc.ID] = desc.Version
	}
	return ids, nil
}

func safeID(id string) bool {
	if id == "" || filepath.IsAbs(id) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(id), "/") {
		if part == ".." || part == "." || part == "" {
			return false
		}
	}
	return true
}
