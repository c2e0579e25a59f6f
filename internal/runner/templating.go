package runner

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
)

// TemplateEngine renders endpoint URLs and header values per user.
type TemplateEngine struct {
	fileCache map[string][]string
	mu        sync.RWMutex
	funcMap   template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	UserID string
	Index  int
	UUID   string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		fileCache: make(map[string][]string),
	}

	e.funcMap = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomUUID":   uuid.NewString,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"uuid":         uuid.NewString,
	}

	return e
}

// Preprocess converts the short forms {{userID}}, {{vu}} and {{uuid}} into
// field access.
func (e *TemplateEngine) Preprocess(input string) string {
	r := strings.NewReplacer(
		"{{userID}}", "{{.UserID}}",
		"{{userId}}", "{{.UserID}}",
		"{{vu}}", "{{.Index}}",
		"{{uuid}}", "{{.UUID}}",
	)
	return r.Replace(input)
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcMap).Parse(e.Preprocess(text))
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Endpoint holds the compiled URL and header templates of a run.
type Endpoint struct {
	engine  *TemplateEngine
	url     *template.Template
	headers map[string]*template.Template

	// userInURL is false when the URL never mentions the user, in which
	// case a userId query parameter is appended.
	userInURL bool
}

func NewEndpoint(e *TemplateEngine, rawURL string, headers map[string]string) (*Endpoint, error) {
	ep := &Endpoint{
		engine:    e,
		headers:   make(map[string]*template.Template, len(headers)),
		userInURL: strings.Contains(e.Preprocess(rawURL), ".UserID") || strings.Contains(rawURL, "userId="),
	}

	var err error
	if ep.url, err = e.Parse("url", rawURL); err != nil {
		return nil, fmt.Errorf("url template: %w", err)
	}
	for k, v := range headers {
		if ep.headers[k], err = e.Parse("header-"+k, v); err != nil {
			return nil, fmt.Errorf("header %s template: %w", k, err)
		}
	}
	return ep, nil
}

// Render produces the URL and headers for one session of u.
func (ep *Endpoint) Render(u *VirtualUser) (string, http.Header, error) {
	data := TemplateData{UserID: u.ID, Index: u.Index, UUID: uuid.NewString()}

	raw, err := ep.engine.Execute(ep.url, data)
	if err != nil {
		return "", nil, err
	}
	if !ep.userInURL {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", nil, err
		}
		q := parsed.Query()
		q.Set("userId", u.ID)
		parsed.RawQuery = q.Encode()
		raw = parsed.String()
	}

	header := make(http.Header, len(ep.headers))
	for k, t := range ep.headers {
		v, err := ep.engine.Execute(t, data)
		if err != nil {
			return "", nil, err
		}
		header.Set(k, v)
	}
	return raw, header, nil
}

// --- Functions ---

func (e *TemplateEngine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return rand.IntN(max-min) + min
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.IntN(len(choices))]
}

func (e *TemplateEngine) randomLine(filename string) (string, error) {
	e.mu.RLock()
	lines, ok := e.fileCache[filename]
	e.mu.RUnlock()

	if !ok {
		var err error
		if lines, err = e.loadLines(filename); err != nil {
			return "", err
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return lines[rand.IntN(len(lines))], nil
}

func (e *TemplateEngine) loadLines(filename string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lines, ok := e.fileCache[filename]; ok {
		return lines, nil
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s': %w", filename, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	var loaded []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			loaded = append(loaded, line)
		}
	}

	e.fileCache[filename] = loaded
	return loaded, nil
}
