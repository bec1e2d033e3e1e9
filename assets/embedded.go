package assets

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed templates/*.html static locales/*.toml
var embeddedFiles embed.FS

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embeddedFiles, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// Templates holds the page templates, layout.html included.
func Templates() fs.FS { return mustSub("templates") }

// Static holds stylesheets and scripts served under /static/.
func Static() fs.FS { return mustSub("static") }

// Locales holds the active.<lang>.toml message files.
func Locales() fs.FS { return mustSub("locales") }

// Extract copies every file of fsys into destDir, keeping existing files
// unless overwrite is set. It returns the paths it wrote.
func Extract(fsys fs.FS, destDir string, overwrite bool) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	err := fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		dest := filepath.Join(destDir, filepath.FromSlash(name))
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !overwrite {
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
		}

		src, err := fsys.Open(name)
		if err != nil {
			return err
		}
		defer src.Close()

		if err := extractFile(src, dest); err != nil {
			return fmt.Errorf("extract %s: %w", name, err)
		}
		written = append(written, dest)
		return nil
	})
	return written, err
}

// extractFile is a helper function to extract a file
func extractFile(src io.Reader, destPath string) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, src)
	return err
}
