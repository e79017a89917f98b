package navigation

import (
	"fmt"

	"github.com/hackgods/medai-portal/internal/profile"
)

// View identifies one screen of the application.
type View string

const (
	Login                View = "login"
	SignUp               View = "signup"
	Home                 View = "home"
	Doctors              View = "doctors"
	Booking              View = "booking"
	Analysis             View = "analysis"
	Analytics            View = "analytics"
	DoctorPortal         View = "doctorPortal"
	PatientPortal        View = "patientPortal"
	DoctorSpecialization View = "doctorSpecialization"
)

var views = []View{
	Login,
	SignUp,
	Home,
	Doctors,
	Booking,
	Analysis,
	Analytics,
	DoctorPortal,
	PatientPortal,
	DoctorSpecialization,
}

// Views returns every view.
func Views() []View {
	return append([]View(nil), views...)
}

func (v View) Valid() bool {
	for _, known := range views {
		if v == known {
			return true
		}
	}
	return false
}

func ParseView(s string) (View, error) {
	v := View(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
	}
	return v, nil
}

// RequiredRole reports which role a view is restricted to, if any.
func RequiredRole(v View) (profile.Role, bool) {
	switch v {
	case Analytics, DoctorPortal, DoctorSpecialization:
		return profile.RoleDoctor, true
	case PatientPortal:
		return profile.RolePatient, true
	}
	return "", false
}

// Public views are the only ones rendered for a signed-out session.
func (v View) Public() bool {
	return v == Login || v == SignUp
}

// Screen is what the client should render: a View, or ScreenLoading before
// the first auth event has been handled.
type Screen string

const ScreenLoading Screen = "loading"
