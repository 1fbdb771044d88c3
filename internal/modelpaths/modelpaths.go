// Package modelpaths implements the Model Paths Injector (spec.md C13):
// given an ordered list of model directories, it writes a derived YAML
// document the payload reads via --extra-model-paths-config.
package modelpaths

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Document is the extra-model-paths YAML shape the payload's config
// loader expects: one named section per directory, each declaring the
// same set of model subdirectories rooted there.
type Document map[string]Section

// Section describes the model subdirectories found under one base
// directory. Field order matches the payload's own config schema, not
// any on-disk enumeration.
type Section struct {
	Base        string `yaml:"base_path"`
	Checkpoints string `yaml:"checkpoints,omitempty"`
	Loras       string `yaml:"loras,omitempty"`
	VAE         string `yaml:"vae,omitempty"`
	ControlNet  string `yaml:"controlnet,omitempty"`
	Upscalers   string `yaml:"upscale_models,omitempty"`
	Embeddings  string `yaml:"embeddings,omitempty"`
}

// defaultSection builds a Section whose subdirectory fields point at the
// conventional subfolder names beneath base.
func defaultSection(base string) Section {
	return Section{
		Base:        base,
		Checkpoints: "checkpoints",
		Loras:       "loras",
		VAE:         "vae",
		ControlNet:  "controlnet",
		Upscalers:   "upscale_models",
		Embeddings:  "embeddings",
	}
}

// Write builds a Document from dirs (one section per directory, named
// "shared_N") and writes it to dataDir/extra_model_paths.yaml, returning
// the written path for use as the payload's --extra-model-paths-config
// argument.
func Write(dataDir string, dirs []string) (string, error) {
	if len(dirs) == 0 {
		return "", fmt.Errorf("modelpaths: no directories given")
	}

	doc := make(Document, len(dirs))
	for i, dir := range dirs {
		doc[fmt.Sprintf("shared_%d", i+1)] = defaultSection(dir)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal model paths: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dataDir, "extra_model_paths.yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	return path, os.Rename(tmp, path)
}
