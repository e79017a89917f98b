package profile

import (
	"fmt"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleDoctor, RolePatient:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type Department string

const (
	Cardiology       Department = "Cardiology"
	Neurology        Department = "Neurology"
	Orthopedics      Department = "Orthopedics"
	Pediatrics       Department = "Pediatrics"
	Dermatology      Department = "Dermatology"
	GeneralPhysician Department = "General Physician"
)

// Departments lists every department in display order.
var Departments = []Department{
	Cardiology,
	Neurology,
	Orthopedics,
	Pediatrics,
	Dermatology,
	GeneralPhysician,
}

func ParseDepartment(s string) (Department, error) {
	for _, d := range Departments {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown department %q", s)
}

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// ParseGender defaults an empty value to Male, the registration form's
// preselected option.
func ParseGender(s string) (Gender, error) {
	switch Gender(s) {
	case "":
		return GenderMale, nil
	case GenderMale, GenderFemale, GenderOther:
		return Gender(s), nil
	}
	return "", fmt.Errorf("unknown gender %q", s)
}

// RoleDocument is the per-user entry in the users collection that says which
// profile collection holds the rest of the user's data.
type RoleDocument struct {
	UID   uuid.UUID `json:"uid"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
	Role  Role      `json:"role"`
}

// Profile is either a *DoctorProfile or a *PatientProfile. Use Match to
// consume it so that every role is handled.
type Profile interface {
	ProfileUID() uuid.UUID
	ProfileRole() Role
	sealed()
}

type DoctorProfile struct {
	UID             uuid.UUID           `json:"uid"`
	Name            string              `json:"name"`
	Email           string              `json:"email,omitempty"`
	Specialization  Department          `json:"specialization"`
	ExperienceYears int                 `json:"experience"`
	PhotoURL        string              `json:"photo_url"`
	Hospital        string              `json:"hospital"`
	Availability    map[string][]string `json:"availability"`
}

func (d *DoctorProfile) ProfileUID() uuid.UUID { return d.UID }
func (d *DoctorProfile) ProfileRole() Role     { return RoleDoctor }
func (*DoctorProfile) sealed()                 {}

type PatientProfile struct {
	UID            uuid.UUID   `json:"uid"`
	Name           string      `json:"name"`
	Age            int         `json:"age"`
	Gender         Gender      `json:"gender"`
	Contact        string      `json:"contact"`
	Email          string      `json:"email,omitempty"`
	MedicalHistory string      `json:"medical_history"`
	Allergies      string      `json:"allergies"`
	Insurance      string      `json:"insurance,omitempty"`
	Department     *Department `json:"department,omitempty"`
	Records        []Record    `json:"records"`
}

func (p *PatientProfile) ProfileUID() uuid.UUID { return p.UID }
func (p *PatientProfile) ProfileRole() Role     { return RolePatient }
func (*PatientProfile) sealed()                 {}

// Match dispatches on the concrete profile type. A nil profile, or a nil
// pointer of either type, calls none.
func Match[T any](p Profile, doctor func(*DoctorProfile) T, patient func(*PatientProfile) T, none func() T) T {
	switch v := p.(type) {
	case *DoctorProfile:
		if v != nil {
			return doctor(v)
		}
	case *PatientProfile:
		if v != nil {
			return patient(v)
		}
	}
	return none()
}

// RoleOf returns the role of p, or "" when p is nil.
func RoleOf(p Profile) Role {
	return Match(p,
		func(*DoctorProfile) Role { return RoleDoctor },
		func(*PatientProfile) Role { return RolePatient },
		func() Role { return "" },
	)
}

// Collection names the store collection holding role-specific profiles.
type Collection string

const (
	CollectionDoctors  Collection = "doctors"
	CollectionPatients Collection = "patients"
)

func CollectionFor(role Role) (Collection, error) {
	switch role {
	case RoleDoctor:
		return CollectionDoctors, nil
	case RolePatient:
		return CollectionPatients, nil
	}
	return "", fmt.Errorf("no profile collection for role %q", role)
}

// NewDefault builds the placeholder profile written at sign-up.
func NewDefault(doc RoleDocument) (Profile, error) {
	switch doc.Role {
	case RoleDoctor:
		return &DoctorProfile{
			UID:            doc.UID,
			Name:           doc.Name,
			Email:          doc.Email,
			Specialization: GeneralPhysician,
			PhotoURL:       "https://i.pravatar.cc/150?u=" + doc.Email,
			Hospital:       "General Hospital",
			Availability:   map[string][]string{},
		}, nil
	case RolePatient:
		return &PatientProfile{
			UID:     doc.UID,
			Name:    doc.Name,
			Email:   doc.Email,
			Gender:  GenderOther,
			Contact: doc.Email,
			Records: []Record{},
		}, nil
	}
	return nil, fmt.Errorf("no default profile for role %q", doc.Role)
}
