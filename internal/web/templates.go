package web

import (
	"fmt"
	"html/template"
	"path"
	"time"

	"github.com/spf13/afero"
)

const indexTemplate = "index.html"

func loadTemplates(fs afero.Fs, dir string) (*template.Template, error) {
	p := path.Join(dir, indexTemplate)
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	t, err := template.New(indexTemplate).Funcs(template.FuncMap{
		"fmtTime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	}).Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return t, nil
}

type scheduledRow struct {
	At     time.Time
	Number string
}

type indexData struct {
	ScheduledCalls []scheduledRow
	History        []historyRow
	Date           string
	Time           string
}

type historyRow struct {
	At     time.Time
	To     string
	Event  string
	Error  string
	CallID string
}
