// Package verifier audits the key and message store for anything that would
// let the storage layer read messages or private keys.
//
// It checks table layouts (PRAGMA table_info) against an allowlist, validates
// every row against an embedded JSON Schema, and decodes the stored
// ciphertext, IVs and public keys to check their shape.
package verifier

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tortoisewolfe/securemsg/ccc/logging"
	"github.com/tortoisewolfe/securemsg/encryption"
	"github.com/tortoisewolfe/securemsg/keyderivation"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "mem://securemsg/schemas/"

const (
	// gcmTagLength is the size of the AES-GCM authentication tag
	gcmTagLength = 16
	// minWrappedSecretLength is ephemeral point + nonce + tag of an empty payload
	minWrappedSecretLength = 65 + encryption.NonceLength + gcmTagLength
)

// forbiddenColumn matches column names that suggest plaintext or private key material
var forbiddenColumn = regexp.MustCompile(`(?i)(plain|private|priv_?key|secret_?key|password|passphrase|seed|mnemonic|^d$|^body$|^content$|^text$)`)

// Violation is one finding of the audit
type Violation struct {
	Table  string `json:"table"`
	Row    string `json:"row,omitempty"`
	Column string `json:"column,omitempty"`
	Rule   string `json:"rule"`
	Detail string `json:"detail"`
}

func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Table)
	if v.Row != "" {
		b.WriteString("[" + v.Row + "]")
	}
	if v.Column != "" {
		b.WriteString("." + v.Column)
	}
	b.WriteString(": " + v.Rule + ": " + v.Detail)
	return b.String()
}

// Report is the outcome of one audit
type Report struct {
	TablesChecked []string    `json:"tables_checked"`
	RowsChecked   int         `json:"rows_checked"`
	Violations    []Violation `json:"violations"`
}

// OK reports whether the audit found no violations
func (r *Report) OK() bool {
	return len(r.Violations) == 0
}

func (r *Report) add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// row is one scanned table row, keyed by column name
type row map[string]any

// tableRule describes how one table is audited
type tableRule struct {
	table    string
	schema   string
	key      []string
	inspect  func(v *Verifier, id string, r row) []Violation
	allowed  map[string]bool
	compiled *jsonschema.Schema
}

// Verifier audits a SQLite store. It only reads.
type Verifier struct {
	logger logging.Logger
	db     *sql.DB
	rules  []*tableRule
	jwk    *jsonschema.Schema
}

func NewVerifier(logger logging.Logger, db *sql.DB) (*Verifier, error) {
	if logger == nil {
		logger = logging.NopLogger
	}

	compiler := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded schemas: %w", err)
	}
	for _, entry := range entries {
		data, err := schemaFS.ReadFile("schemas/" + entry.Name())
		if err != nil {
			return nil, err
		}
		if err := compiler.AddResource(schemaBaseURL+entry.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", entry.Name(), err)
		}
	}

	v := &Verifier{
		logger: logger,
		db:     db,
		rules: []*tableRule{
			{table: "user_keys", schema: "user-key-row.schema.json", key: []string{"user_id"}, inspect: (*Verifier).inspectUserKey},
			{table: "conversation_secrets", schema: "conversation-secret-row.schema.json", key: []string{"conversation_id", "user_id"}, inspect: (*Verifier).inspectConversationSecret},
			{table: "messages", schema: "message-row.schema.json", key: []string{"id"}, inspect: (*Verifier).inspectMessage},
		},
	}

	for _, rule := range v.rules {
		rule.compiled, err = compiler.Compile(schemaBaseURL + rule.schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", rule.schema, err)
		}
		rule.allowed, err = schemaProperties(rule.schema)
		if err != nil {
			return nil, err
		}
	}

	v.jwk, err = compiler.Compile(schemaBaseURL + "public-jwk.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile JWK schema: %w", err)
	}

	return v, nil
}

// schemaProperties returns the property names a row schema allows; they are the allowed columns
func schemaProperties(name string) (map[string]bool, error) {
	data, err := schemaFS.ReadFile("schemas/" + name)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
	}

	allowed := make(map[string]bool, len(doc.Properties))
	for column := range doc.Properties {
		allowed[column] = true
	}
	return allowed, nil
}

// Verify runs the full audit. Tables that do not exist yet are skipped.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, rule := range v.rules {
		columns, err := v.columns(ctx, rule.table)
		if err != nil {
			return nil, err
		}
		if len(columns) == 0 {
			v.logger.Debug("Table not present, skipping", "table", rule.table)
			continue
		}
		report.TablesChecked = append(report.TablesChecked, rule.table)

		for _, column := range columns {
			if forbiddenColumn.MatchString(column) {
				report.add(Violation{Table: rule.table, Column: column, Rule: "forbidden-column", Detail: "column name suggests plaintext or private key material"})
			} else if !rule.allowed[column] {
				report.add(Violation{Table: rule.table, Column: column, Rule: "unexpected-column", Detail: "column is not part of the allowed layout"})
			}
		}

		rows, err := v.rows(ctx, rule.table)
		if err != nil {
			return nil, err
		}

		for _, r := range rows {
			report.RowsChecked++
			id := rowID(r, rule.key)

			if err := rule.compiled.Validate(map[string]any(r)); err != nil {
				report.add(Violation{Table: rule.table, Row: id, Rule: "row-schema", Detail: schemaDetail(err)})
				continue
			}
			for _, violation := range rule.inspect(v, id, r) {
				violation.Table = rule.table
				violation.Row = id
				report.add(violation)
			}
		}
	}

	sort.Strings(report.TablesChecked)
	v.logger.Info("Zero-knowledge verification finished", "tables", len(report.TablesChecked), "rows", report.RowsChecked, "violations", len(report.Violations))
	return report, nil
}

// columns lists the column names of a table, or nothing if the table does not exist
func (v *Verifier) columns(ctx context.Context, table string) ([]string, error) {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read layout of %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan layout of %s: %w", table, err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// rows loads every row of a table as column name -> JSON-compatible value
func (v *Verifier) rows(ctx context.Context, table string) ([]row, error) {
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %q", table))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}

		r := make(row, len(columns))
		for i, column := range columns {
			r[column] = jsonValue(values[i])
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// jsonValue maps a driver value onto the types the schema validator understands
func jsonValue(value any) any {
	switch val := value.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case string, bool:
		return val
	case int64:
		return json.Number(fmt.Sprint(val))
	case float64:
		return val
	default:
		return fmt.Sprint(val)
	}
}

func rowID(r row, key []string) string {
	parts := make([]string, 0, len(key))
	for _, column := range key {
		parts = append(parts, fmt.Sprint(r[column]))
	}
	return strings.Join(parts, "/")
}

// schemaDetail flattens a validation error into its leaf causes
func schemaDetail(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}

	var causes []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			causes = append(causes, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return strings.Join(causes, "; ")
}

func (v *Verifier) inspectUserKey(_ string, r row) []Violation {
	raw, _ := r["public_key_jwk"].(string)

	var doc any
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&doc); err != nil {
		return []Violation{{Column: "public_key_jwk", Rule: "public-key-format", Detail: "public key is not JSON"}}
	}

	if fields, ok := doc.(map[string]any); ok {
		if _, hasD := fields["d"]; hasD {
			return []Violation{{Column: "public_key_jwk", Rule: "private-key-material", Detail: "JWK carries a private component"}}
		}
	}

	if err := v.jwk.Validate(doc); err != nil {
		return []Violation{{Column: "public_key_jwk", Rule: "public-key-format", Detail: schemaDetail(err)}}
	}

	jwk, err := keyderivation.ParseJWK(raw)
	if err != nil {
		return []Violation{{Column: "public_key_jwk", Rule: "public-key-format", Detail: err.Error()}}
	}
	if _, err := jwk.PublicKey(); err != nil {
		return []Violation{{Column: "public_key_jwk", Rule: "public-key-curve", Detail: "public key is not a P-256 point"}}
	}
	return nil
}

func (v *Verifier) inspectConversationSecret(_ string, r row) []Violation {
	blob, err := base64.StdEncoding.DecodeString(r["encrypted_secret"].(string))
	if err != nil {
		return []Violation{{Column: "encrypted_secret", Rule: "ciphertext-format", Detail: "not base64"}}
	}
	if len(blob) < minWrappedSecretLength {
		return []Violation{{Column: "encrypted_secret", Rule: "ciphertext-format", Detail: fmt.Sprintf("%d bytes is too short to be a wrapped key", len(blob))}}
	}
	if blob[0] != 0x04 {
		return []Violation{{Column: "encrypted_secret", Rule: "ciphertext-format", Detail: "does not start with an ephemeral public key"}}
	}
	return nil
}

func (v *Verifier) inspectMessage(_ string, r row) []Violation {
	var violations []Violation

	iv, err := base64.StdEncoding.DecodeString(r["iv"].(string))
	if err != nil || len(iv) != encryption.NonceLength {
		violations = append(violations, Violation{Column: "iv", Rule: "iv-format", Detail: fmt.Sprintf("IV must be %d bytes", encryption.NonceLength)})
	}

	ciphertext, err := base64.StdEncoding.DecodeString(r["ciphertext"].(string))
	if err != nil || len(ciphertext) < gcmTagLength {
		violations = append(violations, Violation{Column: "ciphertext", Rule: "ciphertext-format", Detail: "ciphertext is too short to carry an authentication tag"})
	}

	return violations
}
