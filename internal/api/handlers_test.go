package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/metrics"
	"github.com/hackgods/medai-portal/internal/profile"
	"github.com/hackgods/medai-portal/internal/session"
)

type memoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]auth.Account
}

func (m *memoryAccounts) CreateAccount(_ context.Context, acc auth.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acc.Email]; ok {
		return auth.ErrEmailInUse
	}
	m.accounts[acc.Email] = acc
	return nil
}

func (m *memoryAccounts) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[email]
	if !ok {
		return nil, auth.ErrAccountNotFound
	}
	return &acc, nil
}

func (m *memoryAccounts) DeleteAccount(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, acc := range m.accounts {
		if acc.ID == id {
			delete(m.accounts, email)
		}
	}
	return nil
}

type memorySessions struct {
	mu   sync.Mutex
	data map[string]auth.Identity
}

func (m *memorySessions) Load(_ context.Context, sid string) (*auth.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.data[sid]; ok {
		return &id, nil
	}
	return nil, nil
}

func (m *memorySessions) Save(_ context.Context, sid string, id auth.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[sid] = id
	return nil
}

func (m *memorySessions) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sid)
	return nil
}

type memoryProfiles struct {
	mu        sync.Mutex
	roles     map[uuid.UUID]profile.RoleDocument
	profiles  map[uuid.UUID]profile.Profile
	failWrite bool
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{
		roles:    make(map[uuid.UUID]profile.RoleDocument),
		profiles: make(map[uuid.UUID]profile.Profile),
	}
}

func (m *memoryProfiles) GetRoleDocument(_ context.Context, uid uuid.UUID) (*profile.RoleDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.roles[uid]
	if !ok {
		return nil, profile.ErrRoleDocumentNotFound
	}
	return &doc, nil
}

func (m *memoryProfiles) GetProfileDocument(_ context.Context, c profile.Collection, uid uuid.UUID) (profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, profile.ErrProfileDocumentNotFound
	}
	if want, _ := profile.CollectionFor(p.ProfileRole()); want != c {
		return nil, profile.ErrProfileDocumentNotFound
	}
	return p, nil
}

func (m *memoryProfiles) CreateProfile(_ context.Context, doc profile.RoleDocument, p profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("store unavailable")
	}
	m.roles[doc.UID] = doc
	m.profiles[doc.UID] = p
	return nil
}

func (m *memoryProfiles) AppendRecord(_ context.Context, uid uuid.UUID, rec profile.Record) (*profile.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid].(*profile.PatientProfile)
	if !ok {
		return nil, profile.ErrProfileDocumentNotFound
	}
	rec.ID = profile.RecordID(len(p.Records) + 1)
	p.Records = append(p.Records, rec)
	return &rec, nil
}

func (m *memoryProfiles) ListPatientsByDepartment(_ context.Context, d profile.Department) ([]*profile.PatientProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*profile.PatientProfile{}
	for _, p := range m.profiles {
		if pt, ok := p.(*profile.PatientProfile); ok && pt.Department != nil && *pt.Department == d {
			out = append(out, pt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryProfiles) RegisterPatient(_ context.Context, p *profile.PatientProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite {
		return errors.New("store unavailable")
	}
	if p.UID == uuid.Nil {
		p.UID = uuid.New()
	}
	m.profiles[p.UID] = p
	return nil
}

// signInRecorder keeps the sign-in outcomes the handlers report.
type signInRecorder struct {
	metrics.Nop

	mu       sync.Mutex
	outcomes []string
}

func (r *signInRecorder) SignInResult(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *signInRecorder) results() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}

type testEnv struct {
	server   *httptest.Server
	client   *http.Client
	svc      *auth.Service
	accounts *memoryAccounts
	profiles *memoryProfiles
	metrics  *signInRecorder
	logs     *logtest.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	accounts := &memoryAccounts{accounts: make(map[string]auth.Account)}
	svc := auth.NewService(accounts).WithHashCost(bcrypt.MinCost)
	profiles := newMemoryProfiles()
	log := logger.Discard()
	logs := logtest.NewLocal(log.Logger)
	rec := &signInRecorder{}

	manager := session.NewManager(svc, &memorySessions{data: make(map[string]auth.Identity)}, profiles, log, metrics.Nop{})
	t.Cleanup(manager.CloseAll)

	router := NewRouter(RouterConfig{
		Accounts:         svc,
		Profiles:         profiles,
		Sessions:         manager,
		Tokens:           session.NewTokenIssuer("test-secret", time.Hour),
		Log:              log,
		Metrics:          rec,
		SignInRatePerMin: 100,
		Env:              "test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testEnv{
		server:   srv,
		client:   newBrowser(t),
		svc:      svc,
		accounts: accounts,
		profiles: profiles,
		metrics:  rec,
		logs:     logs,
	}
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func (e *testEnv) do(t *testing.T, client *http.Client, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) session(t *testing.T, client *http.Client, method, path string, body any) (int, SessionResponse) {
	t.Helper()
	resp, raw := e.do(t, client, method, path, body)
	var s SessionResponse
	if resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(raw, &s), string(raw))
	}
	return resp.StatusCode, s
}

func (e *testEnv) signUp(t *testing.T, client *http.Client, email, name, role string) {
	t.Helper()
	status, _ := e.session(t, client, http.MethodPost, "/auth/signup", SignUpRequest{
		Email:           email,
		Password:        "secret123",
		ConfirmPassword: "secret123",
		Name:            name,
		Role:            role,
	})
	require.Equal(t, http.StatusCreated, status)
}

func (e *testEnv) signIn(t *testing.T, client *http.Client, email string) {
	t.Helper()
	status, _ := e.session(t, client, http.MethodPost, "/auth/signin", SignInRequest{Email: email, Password: "secret123"})
	require.Equal(t, http.StatusOK, status)
}

func decodeError(t *testing.T, raw []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &e), string(raw))
	return e
}

func TestSession_NewVisitorStartsOnLogin(t *testing.T) {
	env := newTestEnv(t)

	status, s := env.session(t, env.client, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "login", s.View)
	assert.Equal(t, "login", s.Screen)
	assert.Equal(t, []string{"login"}, s.History)
	assert.False(t, s.CanGoBack)
	assert.Nil(t, s.User)
}

func TestSession_CookieKeepsTheSameSession(t *testing.T) {
	env := newTestEnv(t)

	_, s := env.session(t, env.client, http.MethodPost, "/session/navigate", NavigateRequest{View: "signup"})
	assert.Equal(t, "signup", s.View)

	_, s = env.session(t, env.client, http.MethodGet, "/session", nil)
	assert.Equal(t, []string{"login", "signup"}, s.History)

	other := newBrowser(t)
	_, s = env.session(t, other, http.MethodGet, "/session", nil)
	assert.Equal(t, []string{"login"}, s.History)
}

func TestSignUp(t *testing.T) {
	t.Run("password mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		resp, raw := env.do(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "secret123",
			ConfirmPassword: "secret124",
			Name:            "Jane",
			Role:            "patient",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "Passwords do not match.", decodeError(t, raw).Details)
		assert.Empty(t, env.accounts.accounts)
	})

	t.Run("short password", func(t *testing.T) {
		env := newTestEnv(t)
		resp, raw := env.do(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "abc12",
			ConfirmPassword: "abc12",
			Name:            "Jane",
			Role:            "patient",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		e := decodeError(t, raw)
		assert.Equal(t, "password_too_short", e.Error)
		assert.Equal(t, "Password must be at least 6 characters long.", e.Details)
		assert.Empty(t, env.accounts.accounts)
	})

	t.Run("unknown role", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "secret123",
			ConfirmPassword: "secret123",
			Name:            "Jane",
			Role:            "nurse",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("success leaves the session signed out on login", func(t *testing.T) {
		env := newTestEnv(t)
		status, s := env.session(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "secret123",
			ConfirmPassword: "secret123",
			Name:            "Jane Roe",
			Role:            "patient",
		})
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "login", s.View)
		assert.Equal(t, []string{"login"}, s.History)
		assert.Equal(t, signUpSuccessMessage, s.LoginMessage)
		assert.Nil(t, s.User)

		require.Len(t, env.profiles.profiles, 1)
		for _, p := range env.profiles.profiles {
			patient, ok := p.(*profile.PatientProfile)
			require.True(t, ok)
			assert.Equal(t, "Jane Roe", patient.Name)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "jane@example.com", "Jane", "patient")

		resp, _ := env.do(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "secret123",
			ConfirmPassword: "secret123",
			Name:            "Jane",
			Role:            "patient",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("profile write failure removes the account", func(t *testing.T) {
		env := newTestEnv(t)
		env.profiles.failWrite = true

		resp, _ := env.do(t, env.client, http.MethodPost, "/auth/signup", SignUpRequest{
			Email:           "jane@example.com",
			Password:        "secret123",
			ConfirmPassword: "secret123",
			Name:            "Jane",
			Role:            "doctor",
		})
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Empty(t, env.accounts.accounts)
	})
}

func TestSignIn(t *testing.T) {
	t.Run("patient lands on the patient portal", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "john@example.com", "John Doe", "patient")

		status, s := env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{
			Email:    "john@example.com",
			Password: "secret123",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "patientPortal", s.View)
		assert.Equal(t, []string{"patientPortal"}, s.History)
		require.NotNil(t, s.User)
		assert.Equal(t, "John Doe", s.User.Name)
		assert.Equal(t, profile.RolePatient, s.User.Role)
	})

	t.Run("doctor lands on specialization", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")

		status, s := env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{
			Email:    "house@example.com",
			Password: "secret123",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "doctorSpecialization", s.View)
		assert.Nil(t, s.Specialization)
	})

	t.Run("wrong password", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "john@example.com", "John Doe", "patient")

		resp, raw := env.do(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{
			Email:    "john@example.com",
			Password: "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_credentials", decodeError(t, raw).Error)

		_, s := env.session(t, env.client, http.MethodGet, "/session", nil)
		assert.Nil(t, s.User)
		assert.Equal(t, "login", s.View)
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "john@example.com"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("account without a profile is refused", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Register(context.Background(), "ghost@example.com", "secret123")
		require.NoError(t, err)

		resp, raw := env.do(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{
			Email:    "ghost@example.com",
			Password: "secret123",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "profile_missing", decodeError(t, raw).Error)
		assert.Equal(t, []string{"corrupt_session"}, env.metrics.results())

		var audits []map[string]any
		for _, entry := range env.logs.AllEntries() {
			if entry.Data["audit"] == true && entry.Data["action"] == "sign_in" {
				audits = append(audits, entry.Data)
			}
		}
		require.Len(t, audits, 1)
		assert.Equal(t, false, audits[0]["success"])

		_, s := env.session(t, env.client, http.MethodGet, "/session", nil)
		assert.Nil(t, s.User)
		assert.Equal(t, "login", s.View)
	})

	t.Run("success is counted once", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
		env.signIn(t, env.client, "john@example.com")
		assert.Equal(t, []string{"success"}, env.metrics.results())
	})
}

func TestNavigation_GateAndBack(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
	env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "john@example.com", Password: "secret123"})

	_, s := env.session(t, env.client, http.MethodPost, "/session/navigate", NavigateRequest{View: "doctorPortal"})
	assert.Equal(t, "doctorPortal", s.View)
	assert.Equal(t, "home", s.Screen)
	assert.True(t, s.CanGoBack)

	_, s = env.session(t, env.client, http.MethodPost, "/session/back", nil)
	assert.Equal(t, "patientPortal", s.View)
	assert.Equal(t, "patientPortal", s.Screen)

	_, s = env.session(t, env.client, http.MethodPost, "/session/back", nil)
	assert.Equal(t, []string{"patientPortal"}, s.History)

	resp, _ := env.do(t, env.client, http.MethodPost, "/session/navigate", NavigateRequest{View: "settings"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNavigation_SignedOutSeesLoginForPrivateViews(t *testing.T) {
	env := newTestEnv(t)

	_, s := env.session(t, env.client, http.MethodPost, "/session/navigate", NavigateRequest{View: "analytics"})
	assert.Equal(t, "analytics", s.View)
	assert.Equal(t, "login", s.Screen)

	_, s = env.session(t, env.client, http.MethodPost, "/session/navigate", NavigateRequest{View: "signup", Reset: true})
	assert.Equal(t, []string{"signup"}, s.History)
	assert.Equal(t, "signup", s.Screen)
}

func TestSelectSpecialization(t *testing.T) {
	t.Run("doctor", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
		env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "house@example.com", Password: "secret123"})

		status, s := env.session(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Cardiology"})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "doctorPortal", s.View)
		assert.Equal(t, "doctorPortal", s.Screen)
		require.NotNil(t, s.Specialization)
		assert.Equal(t, "Cardiology", *s.Specialization)
		assert.Equal(t, []string{"doctorSpecialization", "doctorPortal"}, s.History)
	})

	t.Run("patient is refused", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
		env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "john@example.com", Password: "secret123"})

		resp, _ := env.do(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Cardiology"})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown department", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Astrology"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
	env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "house@example.com", Password: "secret123"})
	env.session(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Neurology"})

	status, s := env.session(t, env.client, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "login", s.View)
	assert.Equal(t, []string{"login"}, s.History)
	assert.Nil(t, s.User)
	assert.Nil(t, s.Specialization)

	resp, _ := env.do(t, env.client, http.MethodGet, "/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProfileAndRecords(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
	env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "john@example.com", Password: "secret123"})

	resp, raw := env.do(t, env.client, http.MethodPost, "/profile/records", json.RawMessage(`{
		"type": "VOICE_NOTE",
		"body": {"duration": "02:15", "transcription": {"chief_complaint": "headache"}}
	}`))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"id":"rec-001"`)

	resp, raw = env.do(t, env.client, http.MethodPost, "/profile/records", json.RawMessage(`{"type": "X_RAY", "body": {}}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))

	resp, raw = env.do(t, env.client, http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Role    profile.Role `json:"role"`
		Profile struct {
			Name    string            `json:"name"`
			Records []json.RawMessage `json:"records"`
		} `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, profile.RolePatient, got.Role)
	assert.Equal(t, "John Doe", got.Profile.Name)
	assert.Len(t, got.Profile.Records, 1)
}

// /profile answers for whoever the session's navigation state says is
// signed in.
func TestProfile_FollowsSessionIdentity(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Register(context.Background(), "ghost@example.com", "secret123")
	require.NoError(t, err)

	resp, _ := env.do(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "ghost@example.com", Password: "secret123"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, raw := env.do(t, env.client, http.MethodGet, "/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "not_signed_in", decodeError(t, raw).Error)

	env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
	env.signIn(t, env.client, "john@example.com")

	resp, raw = env.do(t, env.client, http.MethodGet, "/profile", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"name":"John Doe"`)
}

func TestRecords_DoctorIsRefused(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
	env.session(t, env.client, http.MethodPost, "/auth/signin", SignInRequest{Email: "house@example.com", Password: "secret123"})

	resp, _ := env.do(t, env.client, http.MethodPost, "/profile/records", json.RawMessage(`{"type": "VOICE_NOTE", "body": {}}`))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDepartments(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.do(t, env.client, http.MethodGet, "/departments", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, len(profile.Departments))
	assert.Contains(t, got, "General Physician")
}

func TestSignInRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(2)
	h := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader("{}"))
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader("{}"))
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/health/live", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-42")

	resp, err := env.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestPortal_Access(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		env := newTestEnv(t)
		resp, _ := env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("patient", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "john@example.com", "John Doe", "patient")
		env.signIn(t, env.client, "john@example.com")

		resp, raw := env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "doctors_only", decodeError(t, raw).Error)

		resp, _ = env.do(t, env.client, http.MethodPost, "/patients/"+uuid.NewString()+"/records",
			json.RawMessage(`{"type": "VOICE_NOTE", "body": {}}`))
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("doctor without specialization", func(t *testing.T) {
		env := newTestEnv(t)
		env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
		env.signIn(t, env.client, "house@example.com")

		resp, raw := env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "specialization_required", decodeError(t, raw).Error)

		resp, _ = env.do(t, env.client, http.MethodPost, "/portal/patients", RegisterPatientRequest{Name: "Jane Roe", Age: 40, Contact: "555-0101"})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Len(t, env.profiles.profiles, 1)
	})
}

func TestPortal_RegisterListAndRecord(t *testing.T) {
	env := newTestEnv(t)

	neuro := profile.Neurology
	other := &profile.PatientProfile{UID: uuid.New(), Name: "Oliver Sacks", Age: 70, Contact: "555-0199", Department: &neuro, Records: []profile.Record{}}
	env.profiles.profiles[other.UID] = other

	env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
	env.signIn(t, env.client, "house@example.com")
	env.session(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Cardiology"})

	resp, raw := env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(raw))

	resp, raw = env.do(t, env.client, http.MethodPost, "/portal/patients", RegisterPatientRequest{Name: "Jane Roe", Contact: "555-0101"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Please fill in all required fields.", decodeError(t, raw).Details)

	resp, raw = env.do(t, env.client, http.MethodPost, "/portal/patients", RegisterPatientRequest{
		Name:           "Jane Roe",
		Age:            41,
		Contact:        "555-0101",
		MedicalHistory: "Hypertension",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var registered profile.PatientProfile
	require.NoError(t, json.Unmarshal(raw, &registered))
	assert.NotEqual(t, uuid.Nil, registered.UID)
	require.NotNil(t, registered.Department)
	assert.Equal(t, profile.Cardiology, *registered.Department)
	assert.Equal(t, profile.GenderMale, registered.Gender)
	assert.Empty(t, registered.Records)

	resp, raw = env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []profile.PatientProfile
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, registered.UID, listed[0].UID)

	voiceNote := json.RawMessage(`{
		"type": "VOICE_NOTE",
		"body": {"duration": "01:05", "transcription": {"chief_complaint": "chest pain"}}
	}`)

	resp, raw = env.do(t, env.client, http.MethodPost, "/patients/"+registered.UID.String()+"/records", voiceNote)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.Contains(t, string(raw), `"id":"rec-001"`)

	resp, _ = env.do(t, env.client, http.MethodPost, "/patients/"+other.UID.String()+"/records", voiceNote)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, other.Records)

	resp, _ = env.do(t, env.client, http.MethodPost, "/patients/not-a-uuid/records", voiceNote)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, env.client, http.MethodPost, "/patients/"+uuid.NewString()+"/records", voiceNote)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// switching department changes what the portal shows
	env.session(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Neurology"})
	resp, raw = env.do(t, env.client, http.MethodGet, "/portal/patients", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed = nil
	require.NoError(t, json.Unmarshal(raw, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Oliver Sacks", listed[0].Name)
}

func TestPortal_RegisterFailure(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, env.client, "house@example.com", "Gregory House", "doctor")
	env.signIn(t, env.client, "house@example.com")
	env.session(t, env.client, http.MethodPost, "/session/specialization", SpecializationRequest{Department: "Cardiology"})
	env.profiles.failWrite = true

	resp, raw := env.do(t, env.client, http.MethodPost, "/portal/patients", RegisterPatientRequest{Name: "Jane Roe", Age: 41, Contact: "555-0101"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to register patient. Please try again.", decodeError(t, raw).Details)
}
