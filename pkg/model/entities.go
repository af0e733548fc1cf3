package model

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerline/depgraph/pkg/entity"
)

// entitySchema constrains every document before it is decoded.
const entitySchema = `
#Entity: {
	class:       string & !=""
	attributes?: {[string]: _}
}

entities?: [string]: #Entity
`

// EntityDoc is one entry of the entities map.
type EntityDoc struct {
	Name       string         `json:"-" validate:"required,max=256"`
	Class      string         `json:"class" validate:"required,max=128"`
	Attributes map[string]any `json:"attributes"`
}

// Issue is a problem found in an entity document, with its position when known.
type Issue struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	var b strings.Builder
	if i.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", i.File, i.Line, i.Column)
	}
	if i.Path != "" {
		b.WriteString(i.Path + ": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// LoadError collects every issue found while loading entity documents.
type LoadError struct {
	Issues []Issue
}

func (e *LoadError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return fmt.Sprintf("%d entity document issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

// EntityLoader reads entities from CUE files of the form
//
//	entities: {
//	    AAPL: {class: "Stock", attributes: {price: 190.5}}
//	}
//
// Files given together are unified, so one file may refine entities
// declared in another.
type EntityLoader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewEntityLoader creates an entity loader.
func NewEntityLoader() *EntityLoader {
	ctx := cuecontext.New()
	return &EntityLoader{
		ctx:       ctx,
		schema:    ctx.CompileString(entitySchema, cue.Filename("schema.cue")),
		validator: validator.New(),
	}
}

// Load reads every source, which may be a .cue file or a directory searched
// recursively for .cue files. Entities are returned sorted by name.
func (l *EntityLoader) Load(sources ...string) ([]*entity.Entity, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}
		if !info.IsDir() {
			files = append(files, source)
			continue
		}
		err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".cue") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory: %w", err)
		}
	}

	val := l.schema
	var issues []Issue
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		v := l.ctx.CompileBytes(content, cue.Filename(file))
		if err := v.Err(); err != nil {
			issues = append(issues, convertCUEErrors(err)...)
			continue
		}
		val = val.Unify(v)
	}
	if len(issues) > 0 {
		return nil, &LoadError{Issues: issues}
	}
	return l.extract(val)
}

// LoadString reads entities from inline CUE source.
func (l *EntityLoader) LoadString(filename, src string) ([]*entity.Entity, error) {
	v := l.ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, &LoadError{Issues: convertCUEErrors(err)}
	}
	return l.extract(l.schema.Unify(v))
}

func (l *EntityLoader) extract(val cue.Value) ([]*entity.Entity, error) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Issues: convertCUEErrors(err)}
	}

	entitiesVal := val.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return nil, nil
	}

	iter, err := entitiesVal.Fields()
	if err != nil {
		return nil, &LoadError{Issues: convertCUEErrors(err)}
	}

	var docs []EntityDoc
	var issues []Issue
	for iter.Next() {
		name := iter.Selector().Unquoted()
		path := "entities." + iter.Selector().String()

		// Through JSON so numbers come out as float64, like stored entities.
		raw, err := iter.Value().MarshalJSON()
		if err != nil {
			issues = append(issues, convertCUEErrors(err)...)
			continue
		}
		if strings.ContainsAny(name, " \t\n") {
			issues = append(issues, Issue{Path: path, Message: "entity name must not contain whitespace"})
			continue
		}
		doc := EntityDoc{Name: name}
		if err := json.Unmarshal(raw, &doc); err != nil {
			issues = append(issues, Issue{Path: path, Message: err.Error()})
			continue
		}
		if err := l.validator.Struct(doc); err != nil {
			issues = append(issues, Issue{Path: path, Message: fmt.Sprintf("validation failed: %v", err)})
			continue
		}
		docs = append(docs, doc)
	}
	if len(issues) > 0 {
		return nil, &LoadError{Issues: issues}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Name < docs[j].Name })
	out := make([]*entity.Entity, len(docs))
	for i, doc := range docs {
		out[i] = entity.New(doc.Name, doc.Class, doc.Attributes)
	}
	return out, nil
}

func convertCUEErrors(err error) []Issue {
	var issues []Issue
	for _, e := range cueerrors.Errors(err) {
		issue := Issue{
			Message: cueerrors.Details(e, nil),
			Path:    strings.Join(e.Path(), "."),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			issue.File = pos[0].Filename()
			issue.Line = pos[0].Line()
			issue.Column = pos[0].Column()
		}
		issues = append(issues, issue)
	}
	return issues
}
