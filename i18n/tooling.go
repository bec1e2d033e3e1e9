package i18n

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// templates call {{.T "MessageID"}}
var messageRef = regexp.MustCompile(`\.T\s+"([A-Za-z0-9_]+)"`)

// ExtractIDs returns the sorted, de-duplicated message ids referenced by the
// templates matching pattern.
func ExtractIDs(fsys fs.FS, pattern string) ([]string, error) {
	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, m := range messageRef.FindAllSubmatch(data, -1) {
			seen[string(m[1])] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadMessages reads a flat id = "text" message file.
func LoadMessages(fsys fs.FS, name string) (map[string]string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	messages := make(map[string]string)
	if _, err := toml.Decode(string(data), &messages); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return messages, nil
}

// Report summarises one language's catalog against the template ids.
type Report struct {
	Language   string
	Entries    int
	Translated int
	Missing    []string
	Obsolete   []string
}

func (r Report) String() string {
	return fmt.Sprintf("%s: %d entries, %d translated, %d missing, %d obsolete",
		r.Language, r.Entries, r.Translated, len(r.Missing), len(r.Obsolete))
}

// Check compares every active.<lang>.toml in fsys with ids.
func Check(fsys fs.FS, ids []string) ([]Report, error) {
	files, err := fs.Glob(fsys, "active.*.toml")
	if err != nil {
		return nil, err
	}
	var reports []Report
	for _, name := range files {
		messages, err := LoadMessages(fsys, name)
		if err != nil {
			return nil, err
		}
		reports = append(reports, compare(languageOf(name), messages, ids))
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Language < reports[j].Language })
	return reports, nil
}

func compare(lang string, messages map[string]string, ids []string) Report {
	r := Report{Language: lang, Entries: len(messages)}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
		if strings.TrimSpace(messages[id]) == "" {
			r.Missing = append(r.Missing, id)
		}
	}
	for id, text := range messages {
		if strings.TrimSpace(text) != "" {
			r.Translated++
		}
		if !want[id] {
			r.Obsolete = append(r.Obsolete, id)
		}
	}
	sort.Strings(r.Obsolete)
	return r
}

// Merge writes translate.<lang>.toml into dir for every non-default
// language, holding the source text of each message the language lacks.
// It returns the files it wrote.
func Merge(dir string, ids []string) ([]string, error) {
	fsys := os.DirFS(dir)
	source, err := LoadMessages(fsys, "active."+DefaultLanguage.String()+".toml")
	if err != nil {
		return nil, fmt.Errorf("load source messages: %w", err)
	}
	reports, err := Check(fsys, ids)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, r := range reports {
		if r.Language == DefaultLanguage.String() || len(r.Missing) == 0 {
			continue
		}
		pending := make(map[string]string, len(r.Missing))
		for _, id := range r.Missing {
			pending[id] = source[id]
		}
		path := filepath.Join(dir, "translate."+r.Language+".toml")
		if err := writeMessages(path, pending); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeMessages(path string, messages map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(messages); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// active.hi.toml -> hi
func languageOf(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(strings.TrimPrefix(base, "active."), ".toml")
}
