package navigation

import (
	"github.com/hackgods/medai-portal/internal/profile"
)

// RenderGate returns the view that may actually be shown for p. Role
// restricted views fall back to Home when p does not carry the required
// role, including when there is no profile at all.
func RenderGate(view View, p profile.Profile) View {
	role, restricted := RequiredRole(view)
	if !restricted {
		return view
	}

	allowed := profile.Match(p,
		func(*profile.DoctorProfile) bool { return role == profile.RoleDoctor },
		func(*profile.PatientProfile) bool { return role == profile.RolePatient },
		func() bool { return false },
	)
	if !allowed {
		return Home
	}
	return view
}
