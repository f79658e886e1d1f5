// Package content renders classified deliveries for the terminal: sender
// prefixes, system notices, inline image markers, and syntax-highlighted
// fenced code blocks inside message text.
package content

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/webchat-console/webchat/internal/interfaces"
)

var (
	senderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	ownSenderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#A6E3A1"))

	systemStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#6C7086"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	imageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9E2AF"))
)

var (
	codeFenceRe = regexp.MustCompile("(?s)```(\\w*)\\n(.*?)```")
	imgMarkerRe = regexp.MustCompile(`<IMG ID="(\d+)">`)
)

// Renderer turns deliveries into styled terminal lines
type Renderer struct {
	highlighter *SyntaxHighlighter
	media       interfaces.MediaStore
}

// NewRenderer creates a renderer. media may be nil; image markers then
// render without their file paths.
func NewRenderer(media interfaces.MediaStore) (*Renderer, error) {
	highlighter, err := NewSyntaxHighlighter("monokai", "terminal256")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize syntax highlighter: %w", err)
	}
	return &Renderer{highlighter: highlighter, media: media}, nil
}

// RenderDelivery produces the display line(s) for one classified message
func (r *Renderer) RenderDelivery(d interfaces.Delivery, senderDisplay string) string {
	if senderDisplay == "" {
		senderDisplay = d.Sender
	}

	body := r.renderBody(d.Text)

	if d.System {
		return systemStyle.Render("* " + body)
	}

	prefix := senderStyle
	if d.Direction == interfaces.DirectionOutgoing {
		prefix = ownSenderStyle
	}

	ts := ""
	if d.Time > 0 {
		ts = timestampStyle.Render(time.Unix(d.Time, 0).Format("15:04")) + " "
	}
	return ts + prefix.Render(senderDisplay+">") + " " + body
}

// renderBody expands image markers and highlights fenced code blocks
func (r *Renderer) renderBody(text string) string {
	text = r.expandImageMarkers(text)
	return r.highlightCodeFences(text)
}

// expandImageMarkers replaces inline image references with a styled marker
// carrying the stored file path
func (r *Renderer) expandImageMarkers(text string) string {
	return imgMarkerRe.ReplaceAllStringFunc(text, func(marker string) string {
		m := imgMarkerRe.FindStringSubmatch(marker)
		label := "[image]"
		if r.media != nil {
			var handle int
			fmt.Sscanf(m[1], "%d", &handle)
			if path, ok := r.media.PathFor(handle); ok {
				label = fmt.Sprintf("[image: %s]", path)
			}
		}
		return imageStyle.Render(label)
	})
}

// highlightCodeFences applies syntax highlighting to ```lang blocks
func (r *Renderer) highlightCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	return codeFenceRe.ReplaceAllStringFunc(text, func(block string) string {
		m := codeFenceRe.FindStringSubmatch(block)
		highlighted, err := r.highlighter.Highlight(m[2], m[1])
		if err != nil {
			return m[2]
		}
		return highlighted
	})
}

// SyntaxHighlighter applies chroma highlighting with a fixed style and
// formatter
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
}

// NewSyntaxHighlighter creates a highlighter with the named theme and
// formatter, falling back to defaults for unknown names
func NewSyntaxHighlighter(themeName, formatterName string) (*SyntaxHighlighter, error) {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}

	style := styles.Get(themeName)
	if style == nil {
		style = styles.Monokai
	}

	return &SyntaxHighlighter{formatter: formatter, style: style}, nil
}

// Highlight applies syntax highlighting to code
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var highlighted strings.Builder
	if err := sh.formatter.Format(&highlighted, sh.style, iterator); err != nil {
		return code, err
	}
	return highlighted.String(), nil
}
