package classify

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact kinds. Every artifact this tool writes is tagged with its kind:
// blob artifacts carry it in the gob envelope, directory artifacts in
// artifact.json, and ensemble manifests record it per sub-model reference.
const (
	KindLexical     = "tfidf-logreg"
	KindEmbed       = "embed-mlp"
	KindTransformer = "transformer"
	KindSetFit      = "setfit"
	KindEnsemble    = "ensemble"
)

// Marker files recognized when probing untagged directory artifacts produced
// by older trainers.
const (
	dirTagFile     = "artifact.json"
	manifestFile   = "config.json"
	labelMapFile   = "label_mapping.json"
	tokenizerFile  = "tokenizer_config.json"
)

// envelope is the on-disk form of a blob artifact: a kind tag plus the
// variant's own gob-encoded parameters.
type envelope struct {
	Kind    string
	Payload []byte
}

type dirTag struct {
	Kind string `json:"kind"`
}

// WriteBlob persists a blob artifact: params is gob-encoded and wrapped in a
// kind-tagged envelope.
func WriteBlob(path, kind string, params any) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(params); err != nil {
		return fmt.Errorf("failed to encode %s parameters: %w", kind, err)
	}

	var out bytes.Buffer
	if err := gob.NewEncoder(&out).Encode(envelope{Kind: kind, Payload: payload.Bytes()}); err != nil {
		return fmt.Errorf("failed to encode artifact envelope: %w", err)
	}
	if err := os.WriteFile(path, out.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// ReadBlob opens a blob artifact, verifies its kind tag, and decodes the
// variant parameters into params.
func ReadBlob(path, wantKind string, params any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return &ArtifactFormatError{Path: path, Reason: "not a tagged blob artifact: " + err.Error()}
	}
	if env.Kind != wantKind {
		return &ArtifactFormatError{
			Path:   path,
			Reason: fmt.Sprintf("artifact kind is %s, expected %s", env.Kind, wantKind),
		}
	}
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(params); err != nil {
		return &ArtifactFormatError{Path: path, Reason: "corrupt " + wantKind + " payload: " + err.Error()}
	}
	return nil
}

// WriteDirTag records an explicit kind tag inside a directory artifact.
func WriteDirTag(dir, kind string) error {
	data, err := json.MarshalIndent(dirTag{Kind: kind}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode artifact tag: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, dirTagFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write artifact tag: %w", err)
	}
	return nil
}

// DetectKind determines the artifact kind of a persisted sub-model.
//
// Detection prefers explicit tags (the blob envelope kind, artifact.json for
// directories, config.json with type ensemble) and falls back to probing the
// marker files older trainers leave behind: a tokenizer marker implies a
// transformer artifact, a label mapping without one implies setfit.
func DetectKind(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &ArtifactFormatError{Path: path, Reason: err.Error()}
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &ArtifactFormatError{Path: path, Reason: err.Error()}
		}
		var env envelope
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
			return "", &ArtifactFormatError{Path: path, Reason: "not a tagged blob artifact: " + err.Error()}
		}
		if env.Kind == "" {
			return "", &ArtifactFormatError{Path: path, Reason: "blob artifact has no kind tag"}
		}
		return env.Kind, nil
	}

	// Explicit directory tag wins.
	if data, err := os.ReadFile(filepath.Join(path, dirTagFile)); err == nil {
		var tag dirTag
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", &ArtifactFormatError{Path: path, Reason: "malformed " + dirTagFile + ": " + err.Error()}
		}
		if tag.Kind == "" {
			return "", &ArtifactFormatError{Path: path, Reason: dirTagFile + " has no kind"}
		}
		return tag.Kind, nil
	}

	// Ensemble manifests identify themselves.
	if data, err := os.ReadFile(filepath.Join(path, manifestFile)); err == nil {
		var manifest struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &manifest); err == nil && manifest.Type == KindEnsemble {
			return KindEnsemble, nil
		}
	}

	// Legacy marker probing.
	if fileExists(filepath.Join(path, labelMapFile)) {
		if fileExists(filepath.Join(path, tokenizerFile)) {
			return KindTransformer, nil
		}
		return KindSetFit, nil
	}

	return "", &ArtifactFormatError{
		Path: path,
		Reason: "cannot determine artifact kind: expected " + dirTagFile + ", " +
			manifestFile + " with type ensemble, or " + labelMapFile,
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
