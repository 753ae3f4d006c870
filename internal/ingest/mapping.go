package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/didash/notifier/internal/domain"
)

// columnAliases maps the header names the classification exports use to the
// canonical field keys. Exports from different scanner versions disagree on
// header spelling, so each field accepts several aliases.
var columnAliases = map[string]string{
	"id":             "id",
	"doc_id":         "id",
	"path_id":        "path_id",
	"pathid":         "path_id",
	"full_path":      "full_path",
	"fullpath":       "full_path",
	"path":           "full_path",
	"document_name":  "document_name",
	"doc_name":       "document_name",
	"file_name":      "document_name",
	"owner_name":     "owner_name",
	"owner":          "owner_name",
	"owner_login":    "owner_login",
	"ownerlogin":     "owner_login",
	"modifier_login": "modifier_login",
	"modified_by":    "modifier_login",
	"accessor_login": "accessor_login",
	"accessed_by":    "accessor_login",
	"classify_time":  "classify_time",
	"classified_at":  "classify_time",
	"tags":           "tags",
	"labels":         "tags",
}

// RowMapper turns one CSV record into a RawDocument using the header of the
// file it came from. The mapper is built once per file and reused for every
// record in it.
type RowMapper struct {
	index      map[string]int
	loadDomain string
}

// NewRowMapper resolves the header against the known aliases. Unknown columns
// are ignored; a file without a full_path column is rejected because every
// downstream join keys off the path.
func NewRowMapper(header []string, loadDomain string) (*RowMapper, error) {
	index := make(map[string]int, len(header))
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))
		canonical, known := columnAliases[key]
		if !known {
			continue
		}
		if _, dup := index[canonical]; dup {
			continue
		}
		index[canonical] = i
	}

	if _, ok := index["full_path"]; !ok {
		return nil, fmt.Errorf("header has no path column: %v", header)
	}

	return &RowMapper{index: index, loadDomain: loadDomain}, nil
}

// Map builds a RawDocument from one record. Ownership falls back through the
// owner, modifier, and accessor logins, first non-blank wins; rows where all
// three are blank are still ingested and simply never notify anyone.
func (m *RowMapper) Map(record []string) domain.RawDocument {
	doc := domain.RawDocument{
		ID:            m.int64At(record, "id"),
		PathID:        m.int64At(record, "path_id"),
		FullPath:      m.stringAt(record, "full_path"),
		DocumentName:  m.stringAt(record, "document_name"),
		OwnerName:     m.stringAt(record, "owner_name"),
		OwnerLogin:    m.stringAt(record, "owner_login"),
		ModifierLogin: m.stringAt(record, "modifier_login"),
		AccessorLogin: m.stringAt(record, "accessor_login"),
		ClassifyTime:  m.stringAt(record, "classify_time"),
		Tags:          m.stringAt(record, "tags"),
		LoadDomain:    m.loadDomain,
	}
	doc.Ownership = resolveOwnership(doc)
	return doc
}

func (m *RowMapper) stringAt(record []string, key string) string {
	i, ok := m.index[key]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func (m *RowMapper) int64At(record []string, key string) int64 {
	v := m.stringAt(record, key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func resolveOwnership(doc domain.RawDocument) string {
	for _, candidate := range []string{doc.OwnerLogin, doc.ModifierLogin, doc.AccessorLogin} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}
