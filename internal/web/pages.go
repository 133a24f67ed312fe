package web

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tabimport/internal/runlog"
	"github.com/JonMunkholm/tabimport/internal/store"
)

// refreshSeconds is how often an unfinished log page reloads itself.
const refreshSeconds = 2

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2937}
pre{background:#f9fafb;border:1px solid #e5e7eb;padding:1rem;overflow-x:auto}
.line{display:block}.WARNING{color:#b45309}.ERROR,.CRITICAL{color:#b91c1c}.DEBUG{color:#6b7280}
.state{font-weight:600}`

// logPage renders a run log. Unfinished logs refresh until the run ends.
func logPage(job *store.Job, entry *runlog.Entry) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		state := "running"
		if entry.Finished {
			state = "finished"
		}

		var b strings.Builder
		b.WriteString("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\">")
		if !entry.Finished {
			fmt.Fprintf(&b, "<meta http-equiv=\"refresh\" content=\"%d\">", refreshSeconds)
		}
		fmt.Fprintf(&b, "<title>Import log %s</title><style>%s</style></head><body>",
			templ.EscapeString(entry.ID.String()), pageStyle)

		fmt.Fprintf(&b, "<h1>Import of %s</h1>", templ.EscapeString(job.UploadFile))
		fmt.Fprintf(&b, "<p>Model <code>%s</code>, job <code>%s</code>, started %s, <span class=\"state\">%s</span></p>",
			templ.EscapeString(job.ModelKey),
			templ.EscapeString(job.ID.String()),
			templ.EscapeString(entry.ImportedAt.Format("2006-01-02 15:04:05 MST")),
			state)

		b.WriteString("<pre>")
		for _, line := range entry.Lines() {
			fmt.Fprintf(&b, "<span class=\"line %s\">%s</span>", lineLevel(line), templ.EscapeString(line))
		}
		b.WriteString("</pre></body></html>")

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// lineLevel extracts the level name from "<time>: [LEVEL(n)] message".
func lineLevel(line string) string {
	_, rest, ok := strings.Cut(line, ": [")
	if !ok {
		return ""
	}
	name, _, ok := strings.Cut(rest, "(")
	if !ok {
		return ""
	}
	for _, l := range []runlog.Level{runlog.Debug, runlog.Info, runlog.Warning, runlog.Error, runlog.Critical} {
		if l.String() == name {
			return name
		}
	}
	return ""
}
