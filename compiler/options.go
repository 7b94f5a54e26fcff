package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sasscontrib/embedded-host-go/internal/wire"
)

// optionsSchema is validated against the caller-facing option bag before
// a CompileRequest is ever built, rejecting unrecognized values up front
// (spec.md §7 InvalidOption, e.g. "unknown output style"). Grounded on
// cap/schema_validation.go's SchemaValidator shape: validate an
// arbitrary bag against a JSON schema and turn failures into a
// structured error before the bag is used for anything else.
var optionsSchemaLoader = gojsonschema.NewStringLoader(`{
	"type": "object",
	"properties": {
		"style": {"enum": ["expanded", "compressed", ""]}
	}
}`)

// Options is the caller-facing compile option bag (spec.md §3 "Shared
// options").
type Options struct {
	Importers               []*Importer
	LoadPaths               []string
	Functions               []*Function
	SourceMap               bool
	SourceMapIncludeSources bool
	AlertColor              bool
	AlertAscii              bool
	QuietDeps               bool
	Verbose                 bool
	Silent                  bool
	Charset                 bool
	Style                   wire.OutputStyle
	FatalDeprecations       []wire.DeprecationID
	SilenceDeprecations     []wire.DeprecationID
	FutureDeprecations      []wire.DeprecationID
}

// Validate schema-checks the subset of Options representable as plain
// JSON (currently just Style; importer mutual-exclusion is checked by
// Importer.Validate itself since it isn't expressible in JSON Schema
// without reflecting closures).
func (o *Options) Validate() error {
	doc := map[string]interface{}{"style": string(o.Style)}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("compiler: marshal options for validation: %w", err)
	}

	result, err := gojsonschema.Validate(optionsSchemaLoader, gojsonschema.NewBytesLoader(docBytes))
	if err != nil {
		return fmt.Errorf("compiler: validate options: %w", err)
	}
	if !result.Valid() {
		errs := result.Errors()
		reason := "invalid"
		if len(errs) > 0 {
			reason = errs[0].String()
		}
		return &InvalidOptionError{Field: "style", Reason: reason}
	}

	for _, imp := range o.Importers {
		if err := imp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// toWire converts validated Options plus the importer registry's wire
// refs into wire.CompileOptions.
func (o *Options) toWire(importerRefs []wire.ImporterRef, functionNames []string) wire.CompileOptions {
	return wire.CompileOptions{
		Importers:               importerRefs,
		LoadPaths:               o.LoadPaths,
		GlobalFunctions:         functionNames,
		SourceMap:               o.SourceMap,
		SourceMapIncludeSources: o.SourceMapIncludeSources,
		AlertColor:              o.AlertColor,
		AlertAscii:              o.AlertAscii,
		QuietDeps:               o.QuietDeps,
		Verbose:                 o.Verbose,
		Silent:                  o.Silent,
		Charset:                 o.Charset,
		Style:                   o.Style,
		FatalDeprecations:       o.FatalDeprecations,
		SilenceDeprecations:     o.SilenceDeprecations,
		FutureDeprecations:      o.FutureDeprecations,
	}
}
