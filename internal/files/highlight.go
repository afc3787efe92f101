package files

import (
	"context"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/paseohq/paseo/pkg/protocol"
)

var diffFormatter = html.New(html.WithClasses(false), html.PreventSurroundingPre(false))

// HighlightedDiff renders the diff against base as per-file HTML.
func (s *Service) HighlightedDiff(ctx context.Context, cwd string, req protocol.HighlightedDiffRequest) (*protocol.HighlightedDiffResult, error) {
	args := []string{"diff"}
	if req.Base != "" {
		args = append(args, req.Base)
	}
	raw, err := gitOut(ctx, cwd, args...)
	if err != nil {
		return nil, &protocol.Error{Code: protocol.ErrNotGitRepo, Message: err.Error()}
	}

	result := &protocol.HighlightedDiffResult{}
	for _, fd := range splitDiff(raw) {
		highlighted, err := renderDiffHTML(fd.text)
		if err != nil {
			// Highlighting is presentation only; fall back to the raw hunk.
			highlighted = "<pre>" + htmlEscape(fd.text) + "</pre>"
		}
		result.Files = append(result.Files, protocol.HighlightedFile{
			Path:      fd.path,
			Language:  detectLanguage(fd.path),
			HTML:      highlighted,
			Additions: fd.additions,
			Deletions: fd.deletions,
		})
	}
	return result, nil
}

type fileDiff struct {
	path      string
	text      string
	additions int
	deletions int
}

// splitDiff cuts a unified diff into per-file sections and counts changed
// lines.
func splitDiff(raw string) []fileDiff {
	var out []fileDiff
	var cur *fileDiff
	var buf strings.Builder

	flush := func() {
		if cur != nil {
			cur.text = buf.String()
			out = append(out, *cur)
		}
		buf.Reset()
	}

	for _, line := range strings.SplitAfter(raw, "\n") {
		trimmed := strings.TrimSuffix(line, "\n")
		if strings.HasPrefix(trimmed, "diff --git ") {
			flush()
			cur = &fileDiff{path: diffPath(trimmed)}
		}
		if cur == nil {
			continue
		}
		buf.WriteString(line)
		switch {
		case strings.HasPrefix(trimmed, "+++") || strings.HasPrefix(trimmed, "---"):
		case strings.HasPrefix(trimmed, "+"):
			cur.additions++
		case strings.HasPrefix(trimmed, "-"):
			cur.deletions++
		}
	}
	flush()
	return out
}

// diffPath extracts the b-side path from a "diff --git a/x b/x" header.
func diffPath(header string) string {
	fields := strings.Fields(header)
	if len(fields) < 4 {
		return ""
	}
	return strings.TrimPrefix(fields[3], "b/")
}

func detectLanguage(path string) string {
	lexer := lexers.Match(path)
	if lexer == nil {
		return ""
	}
	return lexer.Config().Name
}

func renderDiffHTML(text string) (string, error) {
	lexer := lexers.Get("diff")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("github")
	if style == nil {
		style = styles.Fallback
	}
	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := diffFormatter.Format(&sb, style, iterator); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
