package fs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/dealroom/pkg/core"
)

// Reserved envelope keys. They live beside the payload, never inside it,
// except in Markdown front-matter where they share the map with metadata.
const (
	keyVersion   = "_version"
	keyCreatedAt = "_createdAt"
	keyUpdatedAt = "_updatedAt"
)

// record is the on-disk shape of a document, independent of the format.
type record struct {
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  core.Metadata
	Content   string
}

func recordFromDocument(doc core.Document) record {
	return record{
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Metadata:  doc.Metadata,
		Content:   doc.Content,
	}
}

func (r record) document(id string) core.Document {
	return core.Document{
		ID:        id,
		Content:   r.Content,
		Metadata:  r.Metadata,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Serializer defines how to read and write a specific file format.
type Serializer interface {
	Decode(data []byte) (record, error)
	Encode(rec record) ([]byte, error)
}

// DefaultSerializers returns the standard set of serializers.
func DefaultSerializers(strict bool) map[string]Serializer {
	return map[string]Serializer{
		".json": &JSONSerializer{Strict: strict},
		".yaml": &YAMLSerializer{},
		".yml":  &YAMLSerializer{},
		".md":   &MarkdownSerializer{},
	}
}

// --- JSON Serializer ---

// JSONSerializer handles reading and writing JSON files.
type JSONSerializer struct {
	// Strict enables strict number parsing (as json.Number) to avoid precision loss.
	Strict bool
}

type jsonRecord struct {
	Version   int64          `json:"_version"`
	CreatedAt time.Time      `json:"_createdAt"`
	UpdatedAt time.Time      `json:"_updatedAt"`
	Data      map[string]any `json:"data,omitempty"`
	Content   string         `json:"content,omitempty"`
}

func (s *JSONSerializer) Decode(data []byte) (record, error) {
	var payload jsonRecord
	decoder := json.NewDecoder(bytes.NewReader(data))
	if s.Strict {
		decoder.UseNumber()
	}
	if err := decoder.Decode(&payload); err != nil {
		return record{}, fmt.Errorf("invalid json: %w", err)
	}
	return record{
		Version:   payload.Version,
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
		Metadata:  payload.Data,
		Content:   payload.Content,
	}, nil
}

func (s *JSONSerializer) Encode(rec record) ([]byte, error) {
	return json.MarshalIndent(jsonRecord{
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Data:      rec.Metadata,
		Content:   rec.Content,
	}, "", "  ")
}

// --- YAML Serializer ---

// YAMLSerializer handles reading and writing YAML files.
type YAMLSerializer struct{}

type yamlRecord struct {
	Version   int64          `yaml:"_version"`
	CreatedAt time.Time      `yaml:"_createdAt"`
	UpdatedAt time.Time      `yaml:"_updatedAt"`
	Data      map[string]any `yaml:"data,omitempty"`
	Content   string         `yaml:"content,omitempty"`
}

func (s *YAMLSerializer) Decode(data []byte) (record, error) {
	var payload yamlRecord
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return record{}, fmt.Errorf("invalid yaml: %w", err)
	}
	return record{
		Version:   payload.Version,
		CreatedAt: payload.CreatedAt,
		UpdatedAt: payload.UpdatedAt,
		Metadata:  payload.Data,
		Content:   payload.Content,
	}, nil
}

func (s *YAMLSerializer) Encode(rec record) ([]byte, error) {
	return yaml.Marshal(yamlRecord{
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		Data:      rec.Metadata,
		Content:   rec.Content,
	})
}

// --- Markdown Serializer ---

// MarkdownSerializer stores metadata as YAML front-matter and content as the body.
type MarkdownSerializer struct{}

func (s *MarkdownSerializer) Decode(data []byte) (record, error) {
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		return record{Content: string(data)}, nil
	}

	rest := data[3:]
	parts := bytes.SplitN(rest, []byte("\n---"), 2)
	if len(parts) == 1 {
		return record{}, errors.New("frontmatter started but no closing delimiter found")
	}

	meta := make(core.Metadata)
	if err := yaml.Unmarshal(parts[0], &meta); err != nil {
		return record{}, fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	rec := record{
		Version:   toInt64(meta[keyVersion]),
		CreatedAt: toTime(meta[keyCreatedAt]),
		UpdatedAt: toTime(meta[keyUpdatedAt]),
	}
	delete(meta, keyVersion)
	delete(meta, keyCreatedAt)
	delete(meta, keyUpdatedAt)
	if len(meta) > 0 {
		rec.Metadata = meta
	}

	body := strings.TrimPrefix(string(parts[1]), "\r")
	body = strings.TrimPrefix(body, "\n")
	rec.Content = body
	return rec, nil
}

func (s *MarkdownSerializer) Encode(rec record) ([]byte, error) {
	front := make(map[string]any, len(rec.Metadata)+3)
	for k, v := range rec.Metadata {
		front[k] = v
	}
	front[keyVersion] = rec.Version
	front[keyCreatedAt] = rec.CreatedAt.Format(time.RFC3339Nano)
	front[keyUpdatedAt] = rec.UpdatedAt.Format(time.RFC3339Nano)

	var buf bytes.Buffer
	buf.WriteString("---\n")
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(front); err != nil {
		return nil, err
	}
	encoder.Close()
	buf.WriteString("---\n")
	buf.WriteString(rec.Content)
	return buf.Bytes(), nil
}

// --- Helpers ---

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}
