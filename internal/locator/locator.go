// Package locator resolves an interactive element on a rendered page from an
// ordered list of fallback lookup strategies.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chromedp/cdproto/cdp"
)

// Kind identifies how a Candidate's query is interpreted.
type Kind string

const (
	KindCSS       Kind = "css"
	KindXPath     Kind = "xpath"
	KindID        Kind = "id"
	KindText      Kind = "text"
	KindAttribute Kind = "attribute"
)

// Candidate is one element lookup strategy.
type Candidate struct {
	Kind  Kind   `yaml:"kind"`
	Query string `yaml:"query"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, c.Query)
}

// Expression returns the selector handed to the page. Text and attribute
// candidates are rewritten into XPath and CSS respectively; the other kinds
// are passed through.
func (c Candidate) Expression() (string, error) {
	if strings.TrimSpace(c.Query) == "" {
		return "", fmt.Errorf("empty %s query", c.Kind)
	}

	switch c.Kind {
	case KindCSS, KindXPath, KindID:
		return c.Query, nil
	case KindText:
		lit := xpathLiteral(c.Query)
		return fmt.Sprintf(`//*[self::button or self::a or @role="button"][contains(normalize-space(.), %s)]`, lit), nil
	case KindAttribute:
		name, value, ok := strings.Cut(c.Query, "=")
		if !ok {
			return fmt.Sprintf("[%s]", strings.TrimSpace(c.Query)), nil
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		return fmt.Sprintf(`[%s=%q]`, strings.TrimSpace(name), value), nil
	default:
		return "", fmt.Errorf("unknown locator kind %q", c.Kind)
	}
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	return `concat('` + strings.Join(parts, `', "'", '`) + `')`
}

// Page looks up a single candidate. A nil node with a nil error means the
// candidate matched nothing.
type Page interface {
	Query(ctx context.Context, c Candidate) (*cdp.Node, error)
}

// Match is the element a resolution settled on.
type Match struct {
	Candidate Candidate
	Index     int
	Node      *cdp.Node
}

// ErrElementNotFound is matched by every ElementNotFoundError.
var ErrElementNotFound = errors.New("element not found")

// ElementNotFoundError lists the candidates tried, in order.
type ElementNotFoundError struct {
	Tried []Candidate
}

func (e *ElementNotFoundError) Error() string {
	if len(e.Tried) == 0 {
		return "element not found: no locator candidates"
	}
	names := make([]string, len(e.Tried))
	for i, c := range e.Tried {
		names[i] = c.String()
	}
	return fmt.Sprintf("element not found after %d candidates: %s", len(e.Tried), strings.Join(names, ", "))
}

func (e *ElementNotFoundError) Is(target error) bool {
	return target == ErrElementNotFound
}

// Resolve tries each candidate once, in order, and returns the first one that
// finds an element. Later candidates are never queried once one matches.
func Resolve(ctx context.Context, page Page, candidates []Candidate) (Match, error) {
	tried := make([]Candidate, 0, len(candidates))

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}

		tried = append(tried, c)
		node, err := page.Query(ctx, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Match{}, ctxErr
			}
			slog.Debug("locator candidate failed", "candidate", c.String(), "error", err)
			continue
		}
		if node == nil {
			slog.Debug("locator candidate matched nothing", "candidate", c.String())
			continue
		}

		slog.Info("✓ Found element", "candidate", c.String(), "position", i+1)
		return Match{Candidate: c, Index: i, Node: node}, nil
	}

	return Match{}, &ElementNotFoundError{Tried: tried}
}
