package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/medai-portal/internal/navigation"
	"github.com/hackgods/medai-portal/internal/profile"
)

type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	Name            string `json:"name"`
	Role            string `json:"role"`
}

type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type NavigateRequest struct {
	View  string `json:"view"`
	Reset bool   `json:"reset"`
}

type SpecializationRequest struct {
	Department string `json:"department"`
}

// RegisterPatientRequest is the doctor portal's new-patient form. The
// department always comes from the doctor's chosen specialization.
type RegisterPatientRequest struct {
	Name           string `json:"name"`
	Age            int    `json:"age"`
	Gender         string `json:"gender"`
	Contact        string `json:"contact"`
	Email          string `json:"email"`
	MedicalHistory string `json:"medical_history"`
	Allergies      string `json:"allergies"`
	Insurance      string `json:"insurance"`
}

type UserResponse struct {
	ID    uuid.UUID    `json:"id"`
	Email string       `json:"email"`
	Name  string       `json:"name,omitempty"`
	Role  profile.Role `json:"role,omitempty"`
}

type SessionResponse struct {
	View           string        `json:"view"`
	Screen         string        `json:"screen"`
	History        []string      `json:"history"`
	CanGoBack      bool          `json:"can_go_back"`
	Loading        bool          `json:"loading"`
	User           *UserResponse `json:"user,omitempty"`
	Specialization *string       `json:"specialization,omitempty"`
	LoginMessage   string        `json:"login_message,omitempty"`
}

type ProfileResponse struct {
	Role    profile.Role    `json:"role"`
	Profile profile.Profile `json:"profile"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func sessionResponse(s navigation.Snapshot) SessionResponse {
	resp := SessionResponse{
		View:         string(s.View),
		Screen:       string(s.Screen),
		History:      make([]string, 0, len(s.History)),
		CanGoBack:    s.CanGoBack,
		Loading:      s.Loading,
		LoginMessage: s.LoginMessage,
	}
	for _, v := range s.History {
		resp.History = append(resp.History, string(v))
	}

	if s.Identity != nil {
		resp.User = &UserResponse{
			ID:    s.Identity.ID,
			Email: s.Identity.Email,
			Role:  profile.RoleOf(s.Profile),
			Name: profile.Match(s.Profile,
				func(d *profile.DoctorProfile) string { return d.Name },
				func(p *profile.PatientProfile) string { return p.Name },
				func() string { return "" },
			),
		}
	}
	if s.Specialization != nil {
		d := string(*s.Specialization)
		resp.Specialization = &d
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
