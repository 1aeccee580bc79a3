// Package prompts renders the analysis agents' prompts from embedded templates.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"reflect"
	"strings"
	"sync"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/comment-insights/pkg/validation"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const frontMatterDelim = "---"

// Prompt is a rendered template.
type Prompt struct {
	Template Name
	Version  int
	System   string
	User     string
}

// PromptValidationError is returned when variables do not fit a template.
type PromptValidationError struct {
	Template  Name
	Variables any
	Issues    []string
}

func (e *PromptValidationError) Error() string {
	return fmt.Sprintf("invalid variables for prompt %q: %s", e.Template, strings.Join(e.Issues, "; "))
}

type frontMatter struct {
	Name        string `yaml:"name"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`
}

type compiled struct {
	meta   frontMatter
	system *template.Template
	user   *template.Template
}

// Compiler loads templates on first use and caches them by name.
type Compiler struct {
	fsys   fs.FS
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[Name]*compiled
}

// NewCompiler returns a Compiler over the embedded templates.
func NewCompiler(logger *zap.Logger) *Compiler {
	return NewCompilerFS(templateFS, logger)
}

// NewCompilerFS returns a Compiler reading templates/<name>.tmpl from fsys.
func NewCompilerFS(fsys fs.FS, logger *zap.Logger) *Compiler {
	return &Compiler{
		fsys:   fsys,
		logger: logger.Named("prompts"),
		cache:  make(map[Name]*compiled),
	}
}

// Compile validates vars against the template's variables struct and
// renders the system and user prompts.
func (c *Compiler) Compile(name Name, vars any) (*Prompt, error) {
	if err := checkVars(name, vars); err != nil {
		return nil, err
	}

	tmpl, err := c.load(name)
	if err != nil {
		return nil, err
	}

	system, err := execute(tmpl.system, vars)
	if err != nil {
		return nil, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	user, err := execute(tmpl.user, vars)
	if err != nil {
		return nil, fmt.Errorf("render %s prompt: %w", name, err)
	}

	return &Prompt{
		Template: name,
		Version:  tmpl.meta.Version,
		System:   system,
		User:     user,
	}, nil
}

// Cached reports whether name has been compiled already.
func (c *Compiler) Cached(name Name) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.cache[name]
	return ok
}

func checkVars(name Name, vars any) error {
	want, ok := varTypes[name]
	if !ok {
		return fmt.Errorf("unknown prompt template %q", name)
	}

	v := reflect.ValueOf(vars)
	if v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != reflect.TypeOf(want) {
		got := "nil"
		if v.IsValid() {
			got = v.Type().String()
		}
		return &PromptValidationError{
			Template:  name,
			Variables: vars,
			Issues:    []string{fmt.Sprintf("expected %T, got %s", want, got)},
		}
	}

	if err := validation.Struct(v.Interface()); err != nil {
		return &PromptValidationError{Template: name, Variables: vars, Issues: validation.Issues(err)}
	}
	return nil
}

func (c *Compiler) load(name Name) (*compiled, error) {
	c.mu.RLock()
	tmpl, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tmpl, ok := c.cache[name]; ok {
		return tmpl, nil
	}

	raw, err := fs.ReadFile(c.fsys, "templates/"+string(name)+".tmpl")
	if err != nil {
		return nil, fmt.Errorf("read prompt template %q: %w", name, err)
	}
	tmpl, err = parse(name, raw)
	if err != nil {
		return nil, err
	}

	c.cache[name] = tmpl
	c.logger.Debug("Compiled prompt template",
		zap.String("template", string(name)),
		zap.Int("version", tmpl.meta.Version))
	return tmpl, nil
}

func parse(name Name, raw []byte) (*compiled, error) {
	meta, body, err := splitFrontMatter(string(raw))
	if err != nil {
		return nil, fmt.Errorf("prompt template %q: %w", name, err)
	}
	if meta.Name != "" && meta.Name != string(name) {
		return nil, fmt.Errorf("prompt template %q declares name %q", name, meta.Name)
	}

	funcs := template.FuncMap{"join": strings.Join}
	system, err := template.New(string(name) + ":system").Option("missingkey=error").Funcs(funcs).Parse(meta.System)
	if err != nil {
		return nil, fmt.Errorf("parse %s system template: %w", name, err)
	}
	user, err := template.New(string(name)).Option("missingkey=error").Funcs(funcs).Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return &compiled{meta: meta, system: system, user: user}, nil
}

func splitFrontMatter(s string) (frontMatter, string, error) {
	var meta frontMatter
	s = strings.TrimPrefix(s, "\ufeff")
	if !strings.HasPrefix(s, frontMatterDelim+"\n") {
		return meta, s, nil
	}
	rest := s[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return meta, "", fmt.Errorf("unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return meta, "", fmt.Errorf("decode front matter: %w", err)
	}
	return meta, rest[end+len(frontMatterDelim)+2:], nil
}

func execute(t *template.Template, vars any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, vars); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
