package profile

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrRoleDocumentNotFound    = errors.New("role document not found")
	ErrProfileDocumentNotFound = errors.New("profile document not found")
	ErrProfileExists           = errors.New("profile already exists")
)

// Store is the profile document store. The navigation controller only reads
// from it; writes come from sign-up, the doctor portal and the records
// endpoints.
type Store interface {
	GetRoleDocument(ctx context.Context, uid uuid.UUID) (*RoleDocument, error)
	GetProfileDocument(ctx context.Context, collection Collection, uid uuid.UUID) (Profile, error)

	CreateProfile(ctx context.Context, doc RoleDocument, p Profile) error
	AppendRecord(ctx context.Context, patientUID uuid.UUID, rec Record) (*Record, error)

	// ListPatientsByDepartment returns every patient filed under d, records
	// included, ordered by name.
	ListPatientsByDepartment(ctx context.Context, d Department) ([]*PatientProfile, error)
	// RegisterPatient adds a patient record with no sign-in account. A zero
	// UID is replaced with a fresh one.
	RegisterPatient(ctx context.Context, p *PatientProfile) error
}
