package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pclforge/pkg/engine"
)

// Loader reads option files. The format is chosen by extension: .cue,
// .toml, .yaml/.yml or .json. Every format is checked against the same CUE
// schema and struct tags.
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a new option file loader.
func NewLoader() *Loader {
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		validator: validator.New(),
	}
}

// Schemas returns the schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadAll loads and merges files in order; later files win.
func (l *Loader) LoadAll(paths []string) (*OptionFile, error) {
	merged := &OptionFile{Options: map[string]any{}}
	for _, path := range paths {
		f, err := l.Load(path)
		if err != nil {
			return nil, err
		}
		merged.Merge(f)
	}
	return merged, nil
}

// Load reads one option file. Relative hook and policy paths are resolved
// against the file's directory.
func (l *Loader) Load(path string) (*OptionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read option file %s", path)).
			WithCode(engine.ErrCodeOptionFileInvalid).
			WithErr(err)
	}

	f, err := l.Parse(path, data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	for i := range f.Hooks {
		if f.Hooks[i].File != "" && !filepath.IsAbs(f.Hooks[i].File) {
			f.Hooks[i].File = filepath.Join(dir, f.Hooks[i].File)
		}
	}
	for i, p := range f.Policies {
		if !filepath.IsAbs(p) {
			f.Policies[i] = filepath.Join(dir, p)
		}
	}
	return f, nil
}

// Parse decodes data; name selects the format and labels errors.
func (l *Loader) Parse(name string, data []byte) (*OptionFile, error) {
	var (
		f    *OptionFile
		errs []ValidationError
	)
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue":
		f, errs = l.parseCUE(name, data)
	case ".toml":
		f, errs = l.decode(name, func(out *OptionFile) error {
			md, err := toml.Decode(string(data), out)
			if err != nil {
				return err
			}
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				return fmt.Errorf("unknown field %s", undecoded[0])
			}
			return nil
		})
	case ".yaml", ".yml":
		f, errs = l.decode(name, func(out *OptionFile) error {
			dec := yaml.NewDecoder(bytes.NewReader(data))
			dec.KnownFields(true)
			return dec.Decode(out)
		})
	case ".json":
		f, errs = l.decode(name, func(out *OptionFile) error {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			return dec.Decode(out)
		})
	default:
		errs = []ValidationError{{File: name, Message: fmt.Sprintf("unsupported option file format %q", ext)}}
	}

	if len(errs) == 0 {
		errs = l.validateStruct(name, f)
	}
	if len(errs) > 0 {
		return nil, newFileError(name, errs)
	}

	f.Sources = []string{name}
	return f, nil
}

func (l *Loader) parseCUE(name string, data []byte) (*OptionFile, []ValidationError) {
	val := l.ctx.CompileBytes(data, cue.Filename(name))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}
	unified, err := l.schemas.Unify("option_file", val)
	if err != nil {
		return nil, convertCUEErrors(err)
	}

	var f OptionFile
	if err := unified.Decode(&f); err != nil {
		return nil, []ValidationError{{File: name, Message: fmt.Sprintf("failed to decode: %v", err)}}
	}
	return &f, nil
}

func (l *Loader) decode(name string, fn func(*OptionFile) error) (*OptionFile, []ValidationError) {
	var f OptionFile
	if err := fn(&f); err != nil {
		return nil, []ValidationError{{File: name, Message: err.Error()}}
	}
	if err := l.schemas.ValidateAgainstSchema("option_file", &f); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			errs[i].File = name
		}
		return nil, errs
	}
	return &f, nil
}

func (l *Loader) validateStruct(name string, f *OptionFile) []ValidationError {
	err := l.validator.Struct(f)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{File: name, Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:    name,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		})
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func newFileError(name string, errs []ValidationError) *engine.EngineError {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return engine.NewConfigurationError(fmt.Sprintf("invalid option file %s: %s", name, strings.Join(msgs, "; "))).
		WithCode(engine.ErrCodeOptionFileInvalid).
		WithDetail("errors", errs)
}
