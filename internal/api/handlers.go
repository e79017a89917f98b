package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/navigation"
	"github.com/hackgods/medai-portal/internal/profile"
	redisclient "github.com/hackgods/medai-portal/internal/redis"
)

const signUpSuccessMessage = "Account created successfully! Please sign in."

// Handlers serves the session endpoints. Every handler runs behind
// SessionMiddleware and acts on the caller's own session.
type Handlers struct {
	accounts *auth.Service
	profiles profile.Store
	log      *logger.Logger
	metrics  metrics.Recorder
}

func NewHandlers(accounts *auth.Service, profiles profile.Store, log *logger.Logger, rec metrics.Recorder) *Handlers {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Handlers{accounts: accounts, profiles: profiles, log: log, metrics: rec}
}

func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Please fill in all fields.")
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(w, http.StatusBadRequest, "password_mismatch", "Passwords do not match.")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		writeError(w, http.StatusBadRequest, "password_too_short", "Password must be at least 6 characters long.")
		return
	}
	role, err := profile.ParseRole(req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_role", err.Error())
		return
	}

	id, err := s.Auth.SignUp(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid_email", "Please enter a valid email address.")
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "weak_password", "Password is too weak. Please choose a stronger password.")
		case errors.Is(err, auth.ErrEmailInUse):
			writeError(w, http.StatusConflict, "email_in_use", "An account with this email already exists.")
		default:
			h.log.WithContext(ctx).WithError(err).Error("sign up failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	doc := profile.RoleDocument{UID: id.ID, Email: id.Email, Name: req.Name, Role: role}
	p, err := profile.NewDefault(doc)
	if err == nil {
		err = h.profiles.CreateProfile(ctx, doc, p)
	}
	if err != nil {
		h.log.WithContext(ctx).WithError(err).WithField("user_id", id.ID).Error("create profile failed")
		if uerr := h.accounts.Unregister(ctx, id.ID); uerr != nil {
			h.log.WithContext(ctx).WithError(uerr).WithField("user_id", id.ID).Error("rollback account failed")
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	h.log.Audit(ctx, id.ID.String(), "sign_up", true, logrus.Fields{"role": role})

	s.Nav.SetLoginMessage(signUpSuccessMessage)
	_ = s.Nav.NavigateTo(navigation.Login, navigation.Reset)
	writeJSON(w, http.StatusCreated, sessionResponse(s.Nav.Snapshot()))
}

func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Please enter both email and password.")
		return
	}

	id, err := s.Auth.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidEmail):
			h.metrics.SignInResult("invalid_credentials")
			h.log.Audit(ctx, "", "sign_in", false, logrus.Fields{"email": req.Email})
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
		default:
			h.metrics.SignInResult("error")
			h.log.WithContext(ctx).WithError(err).Error("sign in failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "")
		}
		return
	}

	// the controller signs an account without a usable profile straight
	// back out
	snap := s.Nav.Snapshot()
	if snap.Identity == nil {
		h.metrics.SignInResult("corrupt_session")
		h.log.Audit(ctx, id.ID.String(), "sign_in", false, logrus.Fields{"reason": "profile_missing"})
		writeError(w, http.StatusForbidden, "profile_missing", "Your account has no profile. Please contact support.")
		return
	}

	h.metrics.SignInResult("success")
	h.log.Audit(ctx, id.ID.String(), "sign_in", true, nil)
	writeJSON(w, http.StatusOK, sessionResponse(snap))
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	userID := ""
	if id := s.Auth.Current(); id != nil {
		userID = id.ID.String()
	}

	s.Nav.Logout(ctx)
	h.log.Audit(ctx, userID, "sign_out", s.Auth.Current() == nil, nil)
	writeJSON(w, http.StatusOK, sessionResponse(s.Nav.Snapshot()))
}

func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse(s.Nav.Snapshot()))
}

func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())

	var req NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	view, err := navigation.ParseView(req.View)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_view", err.Error())
		return
	}

	var opts []navigation.NavOption
	if req.Reset {
		opts = append(opts, navigation.Reset)
	}
	if err := s.Nav.NavigateTo(view, opts...); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_view", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s.Nav.Snapshot()))
}

func (h *Handlers) Back(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	s.Nav.GoBack()
	writeJSON(w, http.StatusOK, sessionResponse(s.Nav.Snapshot()))
}

func (h *Handlers) SelectSpecialization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	var req SpecializationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	dept, err := profile.ParseDepartment(req.Department)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_department", err.Error())
		return
	}

	snap := s.Nav.Snapshot()
	if snap.Identity == nil {
		writeError(w, http.StatusUnauthorized, "not_signed_in", "")
		return
	}
	if profile.RoleOf(snap.Profile) != profile.RoleDoctor {
		h.log.Audit(ctx, snap.Identity.ID.String(), "select_specialization", false, logrus.Fields{"department": dept})
		writeError(w, http.StatusForbidden, "doctors_only", "Only doctors can choose a specialization.")
		return
	}

	s.Nav.SelectSpecialization(dept)
	writeJSON(w, http.StatusOK, sessionResponse(s.Nav.Snapshot()))
}

// Profile returns the signed-in user's profile, read from the store rather
// than from the snapshot the controller resolved at sign-in.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	id := s.Nav.Snapshot().Identity
	if id == nil {
		writeError(w, http.StatusUnauthorized, "not_signed_in", "")
		return
	}

	doc, err := h.profiles.GetRoleDocument(ctx, id.ID)
	if err != nil {
		h.profileError(w, r, err)
		return
	}
	collection, err := profile.CollectionFor(doc.Role)
	if err != nil {
		h.profileError(w, r, err)
		return
	}
	p, err := h.profiles.GetProfileDocument(ctx, collection, id.ID)
	if err != nil {
		h.profileError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{Role: doc.Role, Profile: p})
}

func (h *Handlers) AppendRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	snap := s.Nav.Snapshot()
	if snap.Identity == nil {
		writeError(w, http.StatusUnauthorized, "not_signed_in", "")
		return
	}
	if profile.RoleOf(snap.Profile) != profile.RolePatient {
		writeError(w, http.StatusForbidden, "patients_only", "Only patients can add records.")
		return
	}

	h.appendRecord(w, r, snap.Identity.ID)
}

// PortalPatients lists the patients filed under the doctor's chosen
// specialization.
func (h *Handlers) PortalPatients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	dept, ok := h.doctorDepartment(w, s.Nav.Snapshot())
	if !ok {
		return
	}

	patients, err := h.profiles.ListPatientsByDepartment(ctx, dept)
	if err != nil {
		h.profileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, patients)
}

// RegisterPatient files a new patient, without a sign-in account, under the
// doctor's chosen specialization.
func (h *Handlers) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	snap := s.Nav.Snapshot()
	dept, ok := h.doctorDepartment(w, snap)
	if !ok {
		return
	}

	var req RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Contact = strings.TrimSpace(req.Contact)
	if req.Name == "" || req.Contact == "" || req.Age <= 0 {
		writeError(w, http.StatusBadRequest, "missing_fields", "Please fill in all required fields.")
		return
	}
	gender, err := profile.ParseGender(req.Gender)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_gender", err.Error())
		return
	}

	p := &profile.PatientProfile{
		Name:           req.Name,
		Age:            req.Age,
		Gender:         gender,
		Contact:        req.Contact,
		Email:          strings.TrimSpace(req.Email),
		MedicalHistory: req.MedicalHistory,
		Allergies:      req.Allergies,
		Insurance:      req.Insurance,
		Department:     &dept,
		Records:        []profile.Record{},
	}
	if err := h.profiles.RegisterPatient(ctx, p); err != nil {
		h.log.WithContext(ctx).WithError(err).Error("register patient failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to register patient. Please try again.")
		return
	}

	h.log.Audit(ctx, snap.Identity.ID.String(), "register_patient", true, logrus.Fields{
		"patient_id": p.UID,
		"department": dept,
	})
	writeJSON(w, http.StatusCreated, p)
}

// AppendPatientRecord lets a doctor add a record for a patient in their
// department. Patients outside it are reported as not found.
func (h *Handlers) AppendPatientRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)

	dept, ok := h.doctorDepartment(w, s.Nav.Snapshot())
	if !ok {
		return
	}

	patientID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
		return
	}

	found, err := h.profiles.GetProfileDocument(ctx, profile.CollectionPatients, patientID)
	if err != nil {
		if errors.Is(err, profile.ErrProfileDocumentNotFound) {
			writeError(w, http.StatusNotFound, "patient_not_found", "")
			return
		}
		h.profileError(w, r, err)
		return
	}
	patient, isPatient := found.(*profile.PatientProfile)
	if !isPatient || patient.Department == nil || *patient.Department != dept {
		writeError(w, http.StatusNotFound, "patient_not_found", "")
		return
	}

	h.appendRecord(w, r, patientID)
}

// doctorDepartment writes the error response and returns false unless the
// session belongs to a doctor who has chosen a specialization.
func (h *Handlers) doctorDepartment(w http.ResponseWriter, snap navigation.Snapshot) (profile.Department, bool) {
	if snap.Identity == nil {
		writeError(w, http.StatusUnauthorized, "not_signed_in", "")
		return "", false
	}
	if profile.RoleOf(snap.Profile) != profile.RoleDoctor {
		writeError(w, http.StatusForbidden, "doctors_only", "Only doctors can use the doctor portal.")
		return "", false
	}
	if snap.Specialization == nil {
		writeError(w, http.StatusConflict, "specialization_required", "Please select your specialization first.")
		return "", false
	}
	return *snap.Specialization, true
}

func (h *Handlers) appendRecord(w http.ResponseWriter, r *http.Request, patientID uuid.UUID) {
	var rec profile.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_record", err.Error())
		return
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}

	stored, err := h.profiles.AppendRecord(r.Context(), patientID, rec)
	if err != nil {
		switch {
		case errors.Is(err, profile.ErrInvalidRecord):
			writeError(w, http.StatusBadRequest, "invalid_record", err.Error())
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			writeError(w, http.StatusConflict, "record_busy", "Another record is being saved. Please retry.")
		default:
			h.profileError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handlers) Departments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, profile.Departments)
}

func (h *Handlers) profileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, profile.ErrRoleDocumentNotFound) || errors.Is(err, profile.ErrProfileDocumentNotFound) {
		writeError(w, http.StatusNotFound, "profile_not_found", err.Error())
		return
	}
	h.log.WithContext(r.Context()).WithError(err).Error("profile lookup failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "")
}
