// Package templates renders lifecycle email content with the Liquid
// template language. Each email type contributes an HTML body, a text
// body, and a metadata document carrying the subject line, which is
// itself a Liquid template.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/osteele/liquid"
	"gopkg.in/yaml.v3"

	"github.com/maxretain/lifecycle-mailer/internal/contacts"
	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

//go:embed files
var builtin embed.FS

// Metadata is the per-type sidecar document (<type>_metadata.yaml).
// Variables are merged into the render bindings without overriding
// anything the caller already set.
type Metadata struct {
	Subject   string                 `yaml:"subject"`
	Preheader string                 `yaml:"preheader"`
	Variables map[string]interface{} `yaml:"variables"`
}

// Message is one fully rendered email.
type Message struct {
	Subject   string
	Preheader string
	HTML      string
	Text      string
}

// Engine renders email templates from a directory. Parsed templates are
// cached, so a long-running sender pays the parse cost once per file.
type Engine struct {
	fsys   fs.FS
	engine *liquid.Engine
	cache  sync.Map // file name -> *liquid.Template
	meta   sync.Map // email type -> Metadata
}

// New builds an engine over dir. An empty dir selects the built-in
// template set shipped with the binary.
func New(dir string) (*Engine, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(builtin, "files")
		if err != nil {
			return nil, errs.Renderf("opening built-in templates: %v", err)
		}
		fsys = sub
	} else {
		if _, err := os.Stat(dir); err != nil {
			return nil, errs.Renderf("template directory %s: %v", dir, err)
		}
		fsys = os.DirFS(dir)
	}

	e := &Engine{fsys: fsys, engine: liquid.NewEngine()}
	registerFilters(e.engine)
	return e, nil
}

// Default returns an engine over the built-in templates.
func Default() *Engine {
	e, err := New("")
	if err != nil {
		panic(fmt.Sprintf("templates: built-in set unavailable: %v", err))
	}
	return e
}

// Types lists the email types the engine has templates for, discovered
// from the metadata sidecars.
func (e *Engine) Types() []string {
	names, err := fs.Glob(e.fsys, "*_metadata.yaml")
	if err != nil {
		return nil
	}
	types := make([]string, 0, len(names))
	for _, n := range names {
		types = append(types, strings.TrimSuffix(n, "_metadata.yaml"))
	}
	sort.Strings(types)
	return types
}

// Render produces the subject, HTML body, and text body for one email.
// data normally comes from Bindings.
func (e *Engine) Render(emailType string, data map[string]interface{}) (Message, error) {
	emailType = contacts.NormalizeEmailType(emailType)
	if !contacts.KnownEmailType(emailType) {
		return Message{}, errs.Renderf("no template for email type %q", emailType)
	}

	meta, err := e.metadata(emailType)
	if err != nil {
		return Message{}, err
	}
	for k, v := range meta.Variables {
		if _, bound := data[k]; !bound {
			data[k] = v
		}
	}

	subjectSrc := meta.Subject
	if subjectSrc == "" {
		subjectSrc = defaultSubject(emailType)
	}
	subject, err := e.renderSource("subject:"+emailType, subjectSrc, data)
	if err != nil {
		return Message{}, errs.Renderf("subject for %s: %v", emailType, err)
	}
	preheader := ""
	if meta.Preheader != "" {
		preheader, err = e.renderSource("preheader:"+emailType, meta.Preheader, data)
		if err != nil {
			return Message{}, errs.Renderf("preheader for %s: %v", emailType, err)
		}
	}
	html, err := e.renderFile(emailType+".html", data)
	if err != nil {
		return Message{}, err
	}
	text, err := e.renderFile(emailType+".txt", data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject:   strings.TrimSpace(subject),
		Preheader: strings.TrimSpace(preheader),
		HTML:      html,
		Text:      text,
	}, nil
}

// Validate renders every discovered type against sample data, so broken
// templates surface at startup rather than mid-batch.
func (e *Engine) Validate() error {
	types := e.Types()
	if len(types) == 0 {
		return errs.Renderf("no templates found")
	}
	var problems []string
	for _, t := range types {
		if _, err := e.Render(t, sampleBindings(t)); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errs.Renderf("template validation: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (e *Engine) metadata(emailType string) (Metadata, error) {
	if cached, ok := e.meta.Load(emailType); ok {
		return cached.(Metadata), nil
	}
	raw, err := fs.ReadFile(e.fsys, emailType+"_metadata.yaml")
	if err != nil {
		return Metadata{}, errs.Renderf("metadata for %s: %v", emailType, err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, errs.Renderf("metadata for %s: %v", emailType, err)
	}
	e.meta.Store(emailType, meta)
	return meta, nil
}

func (e *Engine) renderFile(name string, data map[string]interface{}) (string, error) {
	tpl, err := e.template(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(data)
	if err != nil {
		return "", errs.Renderf("rendering %s: %v", name, err)
	}
	return out, nil
}

func (e *Engine) renderSource(cacheKey, source string, data map[string]interface{}) (string, error) {
	if cached, ok := e.cache.Load(cacheKey); ok {
		return cached.(*liquid.Template).RenderString(data)
	}
	tpl, err := e.engine.ParseString(source)
	if err != nil {
		return "", err
	}
	e.cache.Store(cacheKey, tpl)
	return tpl.RenderString(data)
}

func (e *Engine) template(name string) (*liquid.Template, error) {
	if cached, ok := e.cache.Load(name); ok {
		return cached.(*liquid.Template), nil
	}
	raw, err := fs.ReadFile(e.fsys, name)
	if err != nil {
		return nil, errs.Renderf("loading %s: %v", name, err)
	}
	tpl, err := e.engine.ParseString(string(raw))
	if err != nil {
		return nil, errs.Renderf("parsing %s: %v", name, err)
	}
	e.cache.Store(name, tpl)
	return tpl, nil
}

func defaultSubject(emailType string) string {
	label := strings.ReplaceAll(emailType, "_", " ")
	return fmt.Sprintf("Your %s update, {{ first_name }}", label)
}
