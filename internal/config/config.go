// Package config loads service configuration from an optional YAML file
// with OCRHIVE_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the recognized options.
type Config struct {
	// DataDir is the root for the database, the search index and stored
	// artifacts.
	DataDir string `yaml:"data_dir"`

	// Listen is the host:port of the HTTP API.
	Listen string `yaml:"listen"`

	// StoreOriginalFiles keeps uploaded bytes as an artifact.
	StoreOriginalFiles bool `yaml:"store_original_files"`

	// StorePdfArtifacts generates and keeps searchable PDFs.
	StorePdfArtifacts bool `yaml:"store_pdf_artifacts"`

	// AllowedMimeTypes is the upload allow-list.
	AllowedMimeTypes []string `yaml:"allowed_mime_types"`

	// OcrLanguageHints is passed to the OCR engine, tesseract syntax
	// ("rus+eng").
	OcrLanguageHints string `yaml:"ocr_language_hints"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:            "./data",
		Listen:             "localhost:8027",
		StoreOriginalFiles: true,
		StorePdfArtifacts:  true,
		AllowedMimeTypes: []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"image/bmp",
			"image/tiff",
		},
		OcrLanguageHints: "rus+eng",
	}
}

// Load reads the YAML file at path (missing file means defaults) and
// applies environment overrides. An empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("OCRHIVE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OCRHIVE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("OCRHIVE_STORE_FILES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OCRHIVE_STORE_FILES: %w", err)
		}
		c.StoreOriginalFiles = b
	}
	if v := os.Getenv("OCRHIVE_STORE_PDF"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("OCRHIVE_STORE_PDF: %w", err)
		}
		c.StorePdfArtifacts = b
	}
	if v := os.Getenv("OCRHIVE_ALLOWED_TYPES"); v != "" {
		c.AllowedMimeTypes = splitList(v)
	}
	if v := os.Getenv("OCRHIVE_OCR_LANGUAGES"); v != "" {
		c.OcrLanguageHints = v
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Languages splits the tesseract-style hints into individual codes.
func (c Config) Languages() []string {
	var out []string
	for _, lang := range strings.Split(c.OcrLanguageHints, "+") {
		if lang = strings.TrimSpace(lang); lang != "" {
			out = append(out, lang)
		}
	}
	return out
}

// DatabasePath is the sqlite file location under DataDir.
func (c Config) DatabasePath() string { return c.DataDir + "/ocrhive.db" }

// IndexPath is the bleve index location under DataDir.
func (c Config) IndexPath() string { return c.DataDir + "/bleve" }

// BlobPath is the artifact root under DataDir.
func (c Config) BlobPath() string { return c.DataDir + "/blobs" }
