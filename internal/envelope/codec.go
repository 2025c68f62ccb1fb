package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DecodeError reports a blob that could not be classified as an envelope.
// It is always local to one blob.
type DecodeError struct {
	// Reason categorises the failure.
	Reason DecodeReason

	// Field names the offending field, if any.
	Field string

	// Err is the underlying parse error, if any.
	Err error
}

// DecodeReason categorises decode failures.
type DecodeReason string

const (
	ReasonMalformed      DecodeReason = "MALFORMED"
	ReasonUnknownType    DecodeReason = "UNKNOWN_TYPE"
	ReasonMissingField   DecodeReason = "MISSING_FIELD"
	ReasonInvalidField   DecodeReason = "INVALID_FIELD"
	ReasonUnsupportedVer DecodeReason = "UNSUPPORTED_VERSION"
)

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("decode envelope: %s: %s: %v", e.Reason, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("decode envelope: %s: %s", e.Reason, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode envelope: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// wire is the union of all envelope fields as they appear on the ledger.
// Pointers distinguish absent fields from zero values.
type wire struct {
	Type          *string `json:"type"`
	SchemaVersion *int64  `json:"schema_version"`
	Key           *string `json:"key"`
	Value         *string `json:"value"`
	ID            *string `json:"id"`
	CreatedAt     *string `json:"created_at"`
	StartHeight   *uint64 `json:"start_height"`
	RecordCount   *int64  `json:"record_count"`
	UpdatedAt     *string `json:"updated_at"`
}

// Encode serializes an envelope to canonical JSON.
// The record key is NFC-normalised; the value is written verbatim.
func Encode(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case Record:
		return encodeRecord(e)
	case *Record:
		return encodeRecord(*e)
	case Metadata:
		return encodeMetadata(e)
	case *Metadata:
		return encodeMetadata(*e)
	case nil:
		return nil, fmt.Errorf("encode envelope: nil envelope")
	default:
		return nil, fmt.Errorf("encode envelope: unsupported type %T", env)
	}
}

func encodeRecord(r Record) ([]byte, error) {
	key := NormalizeKey(r.Key)
	if key == "" {
		return nil, fmt.Errorf("encode record: key must not be empty")
	}
	obj := object{
		"type":           TypeRecord,
		"schema_version": int64(SchemaVersion),
		"key":            key,
		"value":          r.Value,
		"created_at":     formatTime(r.CreatedAt),
	}
	if r.ID != "" {
		obj["id"] = r.ID
	}
	data, err := marshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

func encodeMetadata(m Metadata) ([]byte, error) {
	obj := object{
		"type":           TypeMetadata,
		"schema_version": int64(SchemaVersion),
		"start_height":   m.StartHeight,
		"record_count":   m.RecordCount,
		"updated_at":     formatTime(m.UpdatedAt),
	}
	data, err := marshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

// Decode parses a blob into a Record or a Metadata.
// The returned envelope has a zero Pos; callers stamp the ledger position.
func Decode(data []byte) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &DecodeError{Reason: ReasonMalformed, Err: errors.New("empty blob")}
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	if w.Type == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Field: "type"}
	}
	if w.SchemaVersion == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Field: "schema_version"}
	}
	if !supportedVersions[*w.SchemaVersion] {
		return nil, &DecodeError{
			Reason: ReasonUnsupportedVer,
			Field:  "schema_version",
			Err:    fmt.Errorf("version %d", *w.SchemaVersion),
		}
	}

	switch Type(*w.Type) {
	case TypeRecord:
		r, err := decodeRecord(&w)
		if err != nil {
			return nil, err
		}
		return r, nil
	case TypeMetadata:
		m, err := decodeMetadata(&w)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, &DecodeError{Reason: ReasonUnknownType, Field: "type", Err: fmt.Errorf("%q", *w.Type)}
	}
}

func decodeRecord(w *wire) (Record, error) {
	if w.Key == nil {
		return Record{}, &DecodeError{Reason: ReasonMissingField, Field: "key"}
	}
	if *w.Key == "" {
		return Record{}, &DecodeError{Reason: ReasonInvalidField, Field: "key", Err: errors.New("empty key")}
	}
	if w.Value == nil {
		return Record{}, &DecodeError{Reason: ReasonMissingField, Field: "value"}
	}
	if w.CreatedAt == nil {
		return Record{}, &DecodeError{Reason: ReasonMissingField, Field: "created_at"}
	}
	createdAt, err := parseTime(*w.CreatedAt)
	if err != nil {
		return Record{}, &DecodeError{Reason: ReasonInvalidField, Field: "created_at", Err: err}
	}

	r := Record{
		Key:       NormalizeKey(*w.Key),
		Value:     *w.Value,
		CreatedAt: createdAt,
	}
	if w.ID != nil {
		r.ID = *w.ID
	}
	return r, nil
}

func decodeMetadata(w *wire) (Metadata, error) {
	if w.StartHeight == nil {
		return Metadata{}, &DecodeError{Reason: ReasonMissingField, Field: "start_height"}
	}
	if w.UpdatedAt == nil {
		return Metadata{}, &DecodeError{Reason: ReasonMissingField, Field: "updated_at"}
	}
	updatedAt, err := parseTime(*w.UpdatedAt)
	if err != nil {
		return Metadata{}, &DecodeError{Reason: ReasonInvalidField, Field: "updated_at", Err: err}
	}

	m := Metadata{
		StartHeight: *w.StartHeight,
		UpdatedAt:   updatedAt,
	}
	if w.RecordCount != nil {
		m.RecordCount = *w.RecordCount
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
