package leadsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"client_portal_backend/internal/airtable"
	"client_portal_backend/platform/phone"
	"client_portal_backend/platform/sanitize"
)

// Remote field names of the lead table.
const (
	FieldFirstName    = "First Name"
	FieldLastName     = "Last Name"
	FieldFullName     = "Full Name"
	FieldEmail        = "Email"
	FieldPhone        = "Phone"
	FieldStatus       = "Status"
	FieldFormID       = "Form ID"
	FieldSMSSent      = "SMS Sent"
	FieldSMSReplies   = "SMS Replies"
	FieldLastSMSSent  = "Last SMS Sent"
	FieldOptedOut     = "Opted Out"
	FieldCreated      = "Created"
	FieldLastModified = "Last Modified"
)

// DefaultStatus is used when a record has no status.
const DefaultStatus = "new"

var (
	errWrongType   = errors.New("unexpected value type")
	errNegative    = errors.New("must not be negative")
	errUnparseable = errors.New("unparseable value")
)

// fieldRule maps one remote field onto the draft. Parse failures of a
// required rule fail the record; optional rules fall back to their zero value.
type fieldRule struct {
	required bool
	apply    func(m *Mapper, d *Draft, v any) error
}

var fieldRules = map[string]fieldRule{
	FieldFirstName: {apply: func(_ *Mapper, d *Draft, v any) error {
		d.FirstName = sanitize.Name(asString(v))
		return nil
	}},
	FieldLastName: {apply: func(_ *Mapper, d *Draft, v any) error {
		d.LastName = sanitize.Name(asString(v))
		return nil
	}},
	// Full Name is applied after the loop, see splitFullName.
	FieldFullName: {apply: func(*Mapper, *Draft, any) error { return nil }},
	FieldEmail: {apply: func(_ *Mapper, d *Draft, v any) error {
		d.Email = optional(strings.ToLower(asString(v)))
		return nil
	}},
	FieldPhone: {apply: func(m *Mapper, d *Draft, v any) error {
		d.Phone = optional(phone.NormalizeE164(asString(v), m.region))
		return nil
	}},
	FieldStatus: {required: true, apply: func(_ *Mapper, d *Draft, v any) error {
		if !isScalarText(v) {
			return errWrongType
		}
		if s := strings.ToLower(asString(v)); s != "" {
			d.Status = s
		}
		return nil
	}},
	FieldFormID: {apply: func(_ *Mapper, d *Draft, v any) error {
		d.FormID = optional(asString(v))
		return nil
	}},
	FieldSMSSent: {required: true, apply: func(_ *Mapper, d *Draft, v any) error {
		n, err := parseCount(v)
		d.SMSSentCount = n
		return err
	}},
	FieldSMSReplies: {required: true, apply: func(_ *Mapper, d *Draft, v any) error {
		n, err := parseCount(v)
		d.SMSReplyCount = n
		return err
	}},
	FieldLastSMSSent: {apply: func(_ *Mapper, d *Draft, v any) error {
		ts, err := parseTime(v)
		d.LastSMSSentAt = ts
		return err
	}},
	FieldOptedOut: {required: true, apply: func(_ *Mapper, d *Draft, v any) error {
		b, err := parseBool(v)
		d.OptedOut = b
		return err
	}},
	FieldCreated: {required: true, apply: func(_ *Mapper, d *Draft, v any) error {
		ts, err := parseTime(v)
		if ts != nil {
			d.RemoteCreatedAt = ts
		}
		return err
	}},
	FieldLastModified: {apply: func(_ *Mapper, d *Draft, v any) error {
		ts, err := parseTime(v)
		d.RemoteModifiedAt = ts
		return err
	}},
}

// RuleNames returns the remote field names the mapper understands.
func RuleNames() []string {
	names := make([]string, 0, len(fieldRules))
	for name := range fieldRules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mapper turns Airtable records into drafts. It performs no I/O and is safe
// for concurrent use.
type Mapper struct {
	region  string
	aliases map[string]string
}

// NewMapper creates a mapper. aliases maps extra remote headers onto rule
// names; an alias that targets no rule is rejected.
func NewMapper(phoneRegion string, aliases map[string]string) (*Mapper, error) {
	clean := make(map[string]string, len(aliases))
	for from, to := range aliases {
		if _, ok := fieldRules[to]; !ok {
			return nil, unknownTargetError(from, to)
		}
		clean[from] = to
	}
	if phoneRegion == "" {
		phoneRegion = phone.DefaultRegion
	}
	return &Mapper{region: strings.ToUpper(phoneRegion), aliases: clean}, nil
}

func unknownTargetError(from, to string) error {
	return fmt.Errorf("alias %q targets unknown field %q (known: %s)", from, to, strings.Join(RuleNames(), ", "))
}

type aliasFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadAliases reads a YAML alias file of the form
//
//	aliases:
//	  "Phone Number": "Phone"
//
// An empty path yields no aliases.
func LoadAliases(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	return ParseAliases(raw)
}

// ParseAliases decodes alias YAML and validates every target.
func ParseAliases(raw []byte) (map[string]string, error) {
	var file aliasFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse alias file: %w", err)
	}
	for from, to := range file.Aliases {
		if _, ok := fieldRules[to]; !ok {
			return nil, unknownTargetError(from, to)
		}
	}
	return file.Aliases, nil
}

// Map translates one record for the given tenant. It fails only when a
// required field is present with a value that cannot be parsed.
func (m *Mapper) Map(rec airtable.Record, clientID uuid.UUID, lookup CampaignLookup) Result {
	draft := Draft{
		ExternalID:       rec.ID,
		ClientID:         clientID,
		Status:           DefaultStatus,
		RemoteModifiedAt: rec.LastModifiedAt,
	}
	if !rec.CreatedTime.IsZero() {
		created := rec.CreatedTime.UTC()
		draft.RemoteCreatedAt = &created
	}

	keys := make([]string, 0, len(rec.Fields))
	for key := range rec.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fullName := ""
	for _, key := range keys {
		value := rec.Fields[key]
		name := key
		if alias, ok := m.aliases[key]; ok {
			name = alias
		}

		rule, ok := fieldRules[name]
		if !ok {
			draft.UnknownFields = append(draft.UnknownFields, key)
			continue
		}
		if name == FieldFullName {
			fullName = sanitize.Name(asString(value))
			continue
		}
		if value == nil {
			continue
		}
		if err := rule.apply(m, &draft, value); err != nil && rule.required {
			return Fail(&MappingError{ExternalID: rec.ID, Field: key, Value: value, Err: err})
		}
	}

	if draft.FirstName == "" && draft.LastName == "" && fullName != "" {
		draft.FirstName, draft.LastName = splitFullName(fullName)
	}

	if draft.FormID != nil {
		if campaignID, ok := lookup[*draft.FormID]; ok {
			id := campaignID
			draft.CampaignID = &id
			draft.Enriched = true
		}
	}

	return Ok(draft)
}

func splitFullName(full string) (string, string) {
	first, last, found := strings.Cut(full, " ")
	if !found {
		return first, ""
	}
	return first, strings.TrimSpace(last)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func isScalarText(v any) bool {
	switch v.(type) {
	case string, []any:
		return true
	default:
		return false
	}
}

// asString flattens the shapes Airtable uses for text-like cells. Lookup and
// multiple-select cells arrive as arrays; the first text element wins.
func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		for _, item := range val {
			if s := asString(item); s != "" {
				return s
			}
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func parseCount(v any) (int, error) {
	var n float64
	switch val := v.(type) {
	case float64:
		n = val
	case int:
		n = float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, errUnparseable
		}
		n = f
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errUnparseable
		}
		n = f
	default:
		return 0, errWrongType
	}
	if n < 0 {
		return 0, errNegative
	}
	if n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, errUnparseable
	}
	return int(n), nil
}

func parseBool(v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "no", "0":
			return false, nil
		case "true", "yes", "1", "checked":
			return true, nil
		}
		return false, errUnparseable
	case float64:
		return val != 0, nil
	default:
		return false, errWrongType
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02",
}

func parseTime(v any) (*time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errWrongType
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			utc := ts.UTC()
			return &utc, nil
		}
	}
	return nil, errUnparseable
}
