// Package publisher copies plugin assets and translations into host-visible locations.
package publisher

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/models"
)

// Paths is the subset of the descriptor store the publisher needs.
type Paths interface {
	PublicDir(id string) string
	LangDir(id string) string
	Screenshot(id string) string
	Namespace(id string) string
}

type Publisher struct {
	paths      Paths
	publicRoot string
	langRoot   string
}

func New(paths Paths, publicRoot, langRoot string) *Publisher {
	return &Publisher{paths: paths, publicRoot: publicRoot, langRoot: langRoot}
}

// AssetsDir is where the plugin's public tree is published.
func (p *Publisher) AssetsDir(id string) string {
	return filepath.Join(p.publicRoot, constants.PublishedRootDir, filepath.FromSlash(p.paths.Namespace(id)))
}

// TranslationsDir is where the plugin's language tree is published.
func (p *Publisher) TranslationsDir(id string) string {
	return filepath.Join(p.langRoot, "vendor", filepath.FromSlash(p.paths.Namespace(id)))
}

// PublishAssets reports an unwritable target as a publish result rather than an error.
func (p *Publisher) PublishAssets(id string) *models.Result {
	pluginsRoot := filepath.Join(p.publicRoot, constants.PublishedRootDir, "plugins")
	if err := os.MkdirAll(pluginsRoot, 0o755); err != nil || !writable(pluginsRoot) {
		return models.Failure(models.CodePublish, fmt.Sprintf("Folder %s is not writable, please check permissions", pluginsRoot))
	}

	target := p.AssetsDir(id)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return models.Failure(models.CodePublish, fmt.Sprintf("Cannot create %s: %v", target, err))
	}

	if err := copyDir(p.paths.PublicDir(id), target); err != nil {
		return models.Failure(models.CodePublish, fmt.Sprintf("Cannot publish assets of %s: %v", id, err))
	}

	screenshot := p.paths.Screenshot(id)
	if _, err := os.Stat(screenshot); err == nil {
		if err := copyFile(screenshot, filepath.Join(target, constants.ScreenshotFile)); err != nil {
			return models.Failure(models.CodePublish, fmt.Sprintf("Cannot publish screenshot of %s: %v", id, err))
		}
	}

	return models.Success(fmt.Sprintf("Published assets for plugin %s", id))
}

// PublishTranslations is best-effort: a plugin without translations is fine.
func (p *Publisher) PublishTranslations(id string) error {
	src := p.paths.LangDir(id)
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	if err := copyDir(src, p.TranslationsDir(id)); err != nil {
		return fmt.Errorf("publish translations of %s: %w", id, err)
	}
	return nil
}

// Unpublish deletes what PublishAssets and PublishTranslations created.
func (p *Publisher) Unpublish(id string) error {
	for _, dir := range []string{p.AssetsDir(id), p.TranslationsDir(id)} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("unpublish %s: %w", dir, err)
		}
	}
	logger.GetLogger().Debug("Plugin files unpublished", logger.Fields{"plugin": id})
	return nil
}

func writable(dir string) bool {
	f, err := os.CreateTemp(dir, ".plugman-write-check-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// copyDir copies src into dst, overwriting files. A missing src copies nothing.
func copyDir(src, dst string) error {
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// CopyTree exposes the copy routine to the installer.
func CopyTree(src, dst string) error {
	return copyDir(src, dst)
}
