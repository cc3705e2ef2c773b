package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Template statuses.
const (
	TemplateStatusPending  = "pending"
	TemplateStatusApproved = "approved"
	TemplateStatusRejected = "rejected"
)

// Certificate statuses. Valid may transition to revoked, never back.
const (
	CertificateStatusValid   = "valid"
	CertificateStatusRevoked = "revoked"
)

// Text field alignments.
const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"
)

// QRFieldKey is the reserved field identifier for the QR placement entry.
// Every other key in a template's field map is a text field.
const QRFieldKey = "qrCode"

// FieldKind discriminates the field variants.
type FieldKind string

const (
	FieldKindText FieldKind = "text"
	FieldKindQR   FieldKind = "qr"
)

// Field is one placeable element of a template: either a styled text box
// or the QR placement record. Render code switches exhaustively on Kind.
type Field interface {
	Kind() FieldKind
	IsEnabled() bool
}

// TextField is a pixel-positioned, styled text element. X/Y are editor
// coordinates (top-left origin); Y is the offset from the top of the canvas
// to the text anchor. W is the box width used only for alignment math.
type TextField struct {
	Enabled bool    `json:"enabled"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	W       float64 `json:"w,omitempty"`
	Font    string  `json:"font"`
	Bold    bool    `json:"isBold"`
	Size    float64 `json:"size"`
	Color   string  `json:"color"`
	Align   string  `json:"align"`
	Text    string  `json:"text"`
	Custom  bool    `json:"isCustom,omitempty"`
}

func (TextField) Kind() FieldKind   { return FieldKindText }
func (f TextField) IsEnabled() bool { return f.Enabled }

// QRField is the square QR placement. X/Y are the editor-space top-left
// corner, Size the side length in points.
type QRField struct {
	Enabled bool    `json:"enabled"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Size    float64 `json:"size"`
}

func (QRField) Kind() FieldKind   { return FieldKindQR }
func (f QRField) IsEnabled() bool { return f.Enabled }

// FieldEntry pairs a field identifier with its layout.
type FieldEntry struct {
	Key   string
	Field Field
}

// FieldMap is an insertion-ordered mapping of field identifier to field.
// Key order is the draw order: overlapping fields paint in this order, so
// it is preserved across JSON round trips and storage.
type FieldMap struct {
	entries []FieldEntry
	index   map[string]int
}

// Set inserts or replaces a field, keeping first-insertion order.
func (m *FieldMap) Set(key string, f Field) {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[key]; ok {
		m.entries[i].Field = f
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, FieldEntry{Key: key, Field: f})
}

// Get returns the field stored under key.
func (m *FieldMap) Get(key string) (Field, bool) {
	if m.index == nil {
		return nil, false
	}
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.entries[i].Field, true
}

// QR returns the QR placement entry, if present.
func (m *FieldMap) QR() (QRField, bool) {
	f, ok := m.Get(QRFieldKey)
	if !ok {
		return QRField{}, false
	}
	qr, ok := f.(QRField)
	return qr, ok
}

// Entries returns the fields in insertion order.
func (m *FieldMap) Entries() []FieldEntry { return m.entries }

// Len returns the number of fields.
func (m *FieldMap) Len() int { return len(m.entries) }

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m FieldMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order. The reserved
// qrCode key decodes as a QRField; every other key is a TextField.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("model: fields must be a JSON object")
	}
	m.entries = nil
	m.index = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if key == QRFieldKey {
			var qr QRField
			if err := json.Unmarshal(raw, &qr); err != nil {
				return fmt.Errorf("model: field %q: %w", key, err)
			}
			m.Set(key, qr)
		} else {
			var tf TextField
			if err := json.Unmarshal(raw, &tf); err != nil {
				return fmt.Errorf("model: field %q: %w", key, err)
			}
			m.Set(key, tf)
		}
	}
	_, err = dec.Token() // closing brace
	return err
}

// Template is a named, reusable field layout bound to a background image
// and owned by an organization or department. Immutable once referenced by
// issued certificates except for status transitions.
type Template struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	BackgroundURL string    `json:"backgroundUrl" db:"background_url"`
	Fields        FieldMap  `json:"fields" db:"-"`
	OrgID         string    `json:"orgId" db:"org_id"`
	DepartmentID  string    `json:"departmentId,omitempty" db:"department_id"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"-" db:"created_at"`

	// Storage helper - denormalized fields JSON for easier DB storage
	FieldsJSON string `json:"-" db:"fields_json"`
}

// Renderable reports whether the template can be rendered: every enabled
// text field carries a font, size, color and text (or a known default),
// and an enabled QR entry has a positive size.
func (t *Template) Renderable() error {
	for _, e := range t.Fields.Entries() {
		switch f := e.Field.(type) {
		case TextField:
			if !f.Enabled {
				continue
			}
			if f.Font == "" {
				return fmt.Errorf("model: field %q has no font", e.Key)
			}
			if f.Size <= 0 {
				return fmt.Errorf("model: field %q has no size", e.Key)
			}
			if f.Color == "" {
				return fmt.Errorf("model: field %q has no color", e.Key)
			}
		case QRField:
			if f.Enabled && f.Size <= 0 {
				return fmt.Errorf("model: field %q has no size", e.Key)
			}
		}
	}
	return nil
}

// Recipient is one parsed roster row: an ordered mapping of column name to
// string value. Must contain name and email; any other columns become
// substitution tokens.
type Recipient struct {
	Columns []string
	Values  map[string]string
}

// Get returns the row's value for a column, or "" when absent.
func (r Recipient) Get(col string) string { return r.Values[col] }

// Set appends or replaces a column value, keeping first-insertion order.
func (r *Recipient) Set(col, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[col]; !ok {
		r.Columns = append(r.Columns, col)
	}
	r.Values[col] = value
}

// MarshalJSON encodes the row as a JSON object in column order.
func (r Recipient) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.Values[col])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string values, preserving the
// column order of the uploaded roster.
func (r *Recipient) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("model: recipient must be a JSON object")
	}
	r.Columns = nil
	r.Values = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("model: recipient column %q: %w", keyTok, err)
		}
		r.Set(keyTok.(string), value)
	}
	_, err = dec.Token() // closing brace
	return err
}

// Certificate is the ledger entry for one issued document. Created once at
// issuance; mutated only by revocation.
type Certificate struct {
	CertID         string    `json:"certId" db:"cert_id"`
	OrgID          string    `json:"orgId" db:"org_id"`
	RecipientName  string    `json:"recipientName" db:"recipient_name"`
	RecipientEmail string    `json:"recipientEmail" db:"recipient_email"`
	RecipientSlug  string    `json:"recipientSlug" db:"recipient_slug"`
	JobTitle       string    `json:"jobTitle" db:"job_title"`
	OrgName        string    `json:"orgName" db:"org_name"`
	Status         string    `json:"status" db:"status"`
	QRURL          string    `json:"qrUrl,omitempty" db:"qr_url"`
	PDFURL         string    `json:"pdfUrl" db:"pdf_url"`
	IssuedBy       string    `json:"-" db:"issued_by"`
	TemplateID     string    `json:"-" db:"template_id"`
	Dept           string    `json:"dept,omitempty" db:"dept"`
	IssuedAt       time.Time `json:"issuedAt" db:"issued_at"`
	RevokedBy      string    `json:"-" db:"revoked_by"`
	RevokedAt      time.Time `json:"-" db:"revoked_at"`
}

// PublicCertificate is the public-safe subset served by the verification
// endpoint. No recipient email, no issuer identity.
type PublicCertificate struct {
	CertID        string    `json:"certId"`
	RecipientName string    `json:"recipientName"`
	RecipientSlug string    `json:"recipientSlug"`
	JobTitle      string    `json:"jobTitle"`
	OrgName       string    `json:"orgName"`
	Status        string    `json:"status"`
	PDFURL        string    `json:"pdfUrl"`
	IssuedAt      time.Time `json:"issuedAt"`
}

// PublicView returns the subset of the ledger entry safe for the public
// verification page.
func (c *Certificate) PublicView() PublicCertificate {
	return PublicCertificate{
		CertID:        c.CertID,
		RecipientName: c.RecipientName,
		RecipientSlug: c.RecipientSlug,
		JobTitle:      c.JobTitle,
		OrgName:       c.OrgName,
		Status:        c.Status,
		PDFURL:        c.PDFURL,
		IssuedAt:      c.IssuedAt,
	}
}

// Organization owns templates and certificates and carries the plan quota.
type Organization struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	MonthlyLimit int       `json:"monthlyLimit" db:"monthly_limit"`
	CreatedAt    time.Time `json:"-" db:"created_at"`
}
