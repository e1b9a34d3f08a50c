package webmail

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor pulls the dynamic login parameters out of upstream pages. The
// page format is undocumented and versioned by the vendor, so the strategy
// sits behind this interface.
type Extractor interface {
	// FormParameters returns the URL suffix that follows indexPath in the
	// login form target of the index page.
	FormParameters(page string) (string, error)
	// SessionToken returns the sid embedded as a script variable.
	SessionToken(page string) (string, error)
}

const indexPath = "/coremail/index.jsp"

var (
	formParamsRE   = regexp.MustCompile(regexp.QuoteMeta(indexPath) + `([^"]+)`)
	sessionTokenRE = regexp.MustCompile(`var sid = "([^"]+)"`)
)

// RegexExtractor matches the literal patterns used by the webmail pages.
type RegexExtractor struct{}

func (RegexExtractor) FormParameters(page string) (string, error) {
	m := formParamsRE.FindStringSubmatch(page)
	if m == nil {
		return "", ErrFormParameterMissing
	}
	return m[1], nil
}

func (RegexExtractor) SessionToken(page string) (string, error) {
	m := sessionTokenRE.FindStringSubmatch(page)
	if m == nil {
		return "", ErrSessionTokenMissing
	}
	return m[1], nil
}

// HTMLExtractor tokenizes the page instead of matching raw text. Attribute
// entities are decoded and the session token is searched in script bodies only.
type HTMLExtractor struct{}

func (HTMLExtractor) FormParameters(page string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", ErrFormParameterMissing
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom != atom.Form {
				continue
			}
			for _, attr := range tok.Attr {
				if attr.Key != "action" {
					continue
				}
				i := strings.Index(attr.Val, indexPath)
				if i < 0 {
					continue
				}
				if params := attr.Val[i+len(indexPath):]; params != "" {
					return params, nil
				}
			}
		}
	}
}

func (HTMLExtractor) SessionToken(page string) (string, error) {
	z := html.NewTokenizer(strings.NewReader(page))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", ErrSessionTokenMissing
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = atom.Lookup(name) == atom.Script
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			if m := sessionTokenRE.FindSubmatch(z.Text()); m != nil {
				return string(m[1]), nil
			}
		}
	}
}

// ExtractorByName maps the configuration value to a strategy.
func ExtractorByName(name string) Extractor {
	if strings.EqualFold(name, "html") {
		return HTMLExtractor{}
	}
	return RegexExtractor{}
}
