package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type RecordType string

const (
	RecordVoiceNote     RecordType = "VOICE_NOTE"
	RecordLabReport     RecordType = "LAB_REPORT"
	RecordImagingReport RecordType = "IMAGING_REPORT"
	RecordDiagnosis     RecordType = "DIAGNOSIS_SUGGESTION"
)

var ErrInvalidRecord = errors.New("invalid record")

// RecordBody is one of *VoiceNote, *Report or *Diagnosis.
type RecordBody interface {
	validate(t RecordType) error
}

type Transcription struct {
	ChiefComplaint string `json:"chief_complaint"`
	History        string `json:"history"`
	Examination    string `json:"examination"`
	Impression     string `json:"impression"`
}

type VoiceNote struct {
	Transcription Transcription `json:"transcription"`
	Summary       string        `json:"summary,omitempty"`
}

func (v *VoiceNote) validate(t RecordType) error {
	if t != RecordVoiceNote {
		return fmt.Errorf("%w: voice note body under type %s", ErrInvalidRecord, t)
	}
	return nil
}

type ExtractedValue struct {
	Label string     `json:"label"`
	Value float64    `json:"value"`
	Unit  string     `json:"unit"`
	Range [2]float64 `json:"range"`
}

type ReportAnalysis struct {
	Summary         string           `json:"summary"`
	KeyFindings     []string         `json:"key_findings"`
	Recommendations string           `json:"recommendations"`
	ExtractedValues []ExtractedValue `json:"extracted_values,omitempty"`
}

type Report struct {
	FileName    string         `json:"file_name"`
	FileType    string         `json:"file_type"`
	Analysis    ReportAnalysis `json:"analysis"`
	ImageURL    string         `json:"image_url,omitempty"`
	DoctorNotes string         `json:"doctor_notes,omitempty"`
}

func (r *Report) validate(t RecordType) error {
	if t != RecordLabReport && t != RecordImagingReport {
		return fmt.Errorf("%w: report body under type %s", ErrInvalidRecord, t)
	}
	if r.FileName == "" {
		return fmt.Errorf("%w: report needs a file name", ErrInvalidRecord)
	}
	return nil
}

type PotentialDiagnosis struct {
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type Diagnosis struct {
	Symptoms           string               `json:"symptoms"`
	PotentialDiagnoses []PotentialDiagnosis `json:"potential_diagnoses"`
	CriticalAlert      string               `json:"critical_alert,omitempty"`
}

func (d *Diagnosis) validate(t RecordType) error {
	if t != RecordDiagnosis {
		return fmt.Errorf("%w: diagnosis body under type %s", ErrInvalidRecord, t)
	}
	for _, pd := range d.PotentialDiagnoses {
		if pd.Confidence < 0 || pd.Confidence > 1 {
			return fmt.Errorf("%w: confidence %.2f for %q outside [0,1]", ErrInvalidRecord, pd.Confidence, pd.Condition)
		}
	}
	return nil
}

// Record is a single entry in a patient's medical history.
type Record struct {
	ID   string     `json:"id"`
	Date time.Time  `json:"date"`
	Type RecordType `json:"type"`
	Body RecordBody `json:"-"`
}

func (r Record) Validate() error {
	if r.Body == nil {
		return fmt.Errorf("%w: missing body", ErrInvalidRecord)
	}
	return r.Body.validate(r.Type)
}

type recordJSON struct {
	ID   string          `json:"id"`
	Date time.Time       `json:"date"`
	Type RecordType      `json:"type"`
	Body json.RawMessage `json:"body"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{ID: r.ID, Date: r.Date, Type: r.Type, Body: body})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	body, err := DecodeBody(raw.Type, raw.Body)
	if err != nil {
		return err
	}

	*r = Record{ID: raw.ID, Date: raw.Date, Type: raw.Type, Body: body}
	return nil
}

// DecodeBody decodes the type-specific payload of a record.
func DecodeBody(t RecordType, data []byte) (RecordBody, error) {
	var body RecordBody
	switch t {
	case RecordVoiceNote:
		body = &VoiceNote{}
	case RecordLabReport, RecordImagingReport:
		body = &Report{}
	case RecordDiagnosis:
		body = &Diagnosis{}
	default:
		return nil, fmt.Errorf("%w: unknown record type %q", ErrInvalidRecord, t)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, body); err != nil {
			return nil, fmt.Errorf("decode %s body: %w", t, err)
		}
	}
	return body, nil
}

// RecordID formats the per-patient ordinal the way record ids are shown.
func RecordID(ordinal int) string {
	return fmt.Sprintf("rec-%03d", ordinal)
}
