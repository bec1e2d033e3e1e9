// Command ergot-i18n maintains the message catalogs used by the web pages.
//
//	ergot-i18n init  [-dir locales] [-force]   write the bundled catalogs to disk
//	ergot-i18n check [-dir locales] [-templates dir]
//	ergot-i18n merge [-dir locales] [-templates dir]
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/cropscan/ergot-detector/assets"
	"github.com/cropscan/ergot-detector/i18n"
)

var errIncomplete = errors.New("source language is missing messages")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ergot-i18n:", err)
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: expected init, check or merge", flag.ErrHelp)
	}

	fset := flag.NewFlagSet(args[0], flag.ContinueOnError)
	dir := fset.String("dir", "locales", "Directory holding active.<lang>.toml files")
	templates := fset.String("templates", "", "Template directory (default: bundled templates)")
	force := fset.Bool("force", false, "Overwrite existing files on init")
	if err := fset.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "init":
		written, err := assets.Extract(assets.Locales(), *dir, *force)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintln(out, "wrote", path)
		}
		return nil

	case "check":
		ids, err := templateIDs(*templates)
		if err != nil {
			return err
		}
		reports, err := i18n.Check(os.DirFS(*dir), ids)
		if err != nil {
			return err
		}
		var incomplete bool
		for _, r := range reports {
			fmt.Fprintln(out, r)
			for _, id := range r.Missing {
				fmt.Fprintf(out, "  missing  %s\n", id)
			}
			for _, id := range r.Obsolete {
				fmt.Fprintf(out, "  obsolete %s\n", id)
			}
			if r.Language == i18n.DefaultLanguage.String() && len(r.Missing) > 0 {
				incomplete = true
			}
		}
		if incomplete {
			return errIncomplete
		}
		return nil

	case "merge":
		ids, err := templateIDs(*templates)
		if err != nil {
			return err
		}
		written, err := i18n.Merge(*dir, ids)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintln(out, "wrote", path)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", flag.ErrHelp, args[0])
}

func templateIDs(dir string) ([]string, error) {
	var fsys fs.FS = assets.Templates()
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	return i18n.ExtractIDs(fsys, "*.html")
}
