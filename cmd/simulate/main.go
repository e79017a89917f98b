package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/medai-portal/internal/api"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/navigation"
	"github.com/hackgods/medai-portal/internal/profile"
)

const (
	doctorEmailFormat  = "doctor%03d@medai.test"
	patientEmailFormat = "patient%04d@medai.test"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Password      string
	Doctors       int
	Patients      int
	StepsPerVisit int
	BackRatio     float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		atomic.AddInt64(&om.Error, 1)
	case status >= http.StatusBadRequest:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Success, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	SignIn         OperationMetrics
	Navigate       OperationMetrics
	Back           OperationMetrics
	Specialization OperationMetrics
	Profile        OperationMetrics
	Logout         OperationMetrics

	// Violations counts responses whose view contradicts the role or auth
	// state the simulator expects.
	Violations int64
}

type Simulator struct {
	config  SimConfig
	log     *logger.Logger
	metrics Metrics
}

func main() {
	_ = godotenv.Load()
	log := logger.New(getEnv("LOG_LEVEL", "info"))

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	log.WithFields(logrus.Fields{
		"duration": cfg.Duration.String(),
		"workers":  cfg.Workers,
		"doctors":  cfg.Doctors,
		"patients": cfg.Patients,
	}).Info("simulator starting")

	sim := &Simulator{config: cfg, log: log}
	if err := sim.Run(); err != nil {
		log.WithError(err).Fatal("simulation failed")
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		Password:      getEnv("SEED_PASSWORD", "password123"),
		Doctors:       getInt("SEED_DOCTORS", 50),
		Patients:      getInt("SEED_PATIENTS", 500),
		StepsPerVisit: getInt("SIM_STEPS_PER_VISIT", 8),
		BackRatio:     getFloat("SIM_BACK_RATIO", 0.3),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Doctors <= 0 && cfg.Patients <= 0 {
		return fmt.Errorf("SEED_DOCTORS or SEED_PATIENTS must be > 0")
	}
	return nil
}

func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		g.Go(func() error {
			return s.worker(ctx, workerID)
		})
	}

	err := g.Wait()
	s.log.Info("simulation complete")
	return err
}

// worker behaves like one browser: it keeps its own cookie jar and repeats
// sign in, wander, sign out until ctx ends.
func (s *Simulator) worker(ctx context.Context, workerID int) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	client := &http.Client{Jar: jar, Timeout: 10 * time.Second}

	for ctx.Err() == nil {
		s.visit(ctx, client, rng)
	}
	return nil
}

func (s *Simulator) visit(ctx context.Context, client *http.Client, rng *rand.Rand) {
	role, email := s.pickUser(rng)

	sess, status, err := s.sessionCall(ctx, client, &s.metrics.SignIn, "/auth/signin",
		api.SignInRequest{Email: email, Password: s.config.Password})
	if err != nil || status != http.StatusOK {
		return
	}

	landing := string(navigation.PatientPortal)
	if role == profile.RoleDoctor {
		landing = string(navigation.DoctorSpecialization)
	}
	s.expect(sess.View == landing, "landing", email, sess)

	if role == profile.RoleDoctor {
		dept := profile.Departments[rng.Intn(len(profile.Departments))]
		sess, status, err := s.sessionCall(ctx, client, &s.metrics.Specialization, "/session/specialization",
			api.SpecializationRequest{Department: string(dept)})
		if err == nil && status == http.StatusOK {
			s.expect(sess.Screen == string(navigation.DoctorPortal), "specialization", email, sess)
		}
	}

	views := navigation.Views()
	for i := 0; i < s.config.StepsPerVisit && ctx.Err() == nil; i++ {
		if rng.Float64() < s.config.BackRatio {
			_, _, _ = s.sessionCall(ctx, client, &s.metrics.Back, "/session/back", nil)
			continue
		}

		view := views[rng.Intn(len(views))]
		sess, status, err := s.sessionCall(ctx, client, &s.metrics.Navigate, "/session/navigate",
			api.NavigateRequest{View: string(view)})
		if err != nil || status != http.StatusOK {
			continue
		}
		if required, ok := navigation.RequiredRole(view); ok && required != role {
			s.expect(sess.Screen == string(navigation.Home), "gate", email, sess)
		}
	}

	_, _ = s.call(ctx, client, &s.metrics.Profile, http.MethodGet, "/profile", nil, nil)

	sess, status, err = s.sessionCall(ctx, client, &s.metrics.Logout, "/auth/logout", nil)
	if err == nil && status == http.StatusOK {
		s.expect(sess.View == string(navigation.Login) && sess.User == nil, "logout", email, sess)
	}
}

func (s *Simulator) sessionCall(ctx context.Context, client *http.Client, om *OperationMetrics, path string, body any) (api.SessionResponse, int, error) {
	var sess api.SessionResponse
	status, err := s.call(ctx, client, om, http.MethodPost, path, body, &sess)
	return sess, status, err
}

func (s *Simulator) pickUser(rng *rand.Rand) (profile.Role, string) {
	total := s.config.Doctors + s.config.Patients
	n := rng.Intn(total)
	if n < s.config.Doctors {
		return profile.RoleDoctor, fmt.Sprintf(doctorEmailFormat, n+1)
	}
	return profile.RolePatient, fmt.Sprintf(patientEmailFormat, n-s.config.Doctors+1)
}

func (s *Simulator) expect(ok bool, step, email string, sess api.SessionResponse) {
	if ok {
		return
	}
	atomic.AddInt64(&s.metrics.Violations, 1)
	s.log.WithFields(logrus.Fields{
		"step":   step,
		"email":  email,
		"view":   sess.View,
		"screen": sess.Screen,
	}).Warn("unexpected session state")
}

func (s *Simulator) call(ctx context.Context, client *http.Client, om *OperationMetrics, method, path string, body, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, err
		}
		om.Record(latency, 0, err)
		return 0, err
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode, nil)

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("State violations: %d\n", atomic.LoadInt64(&s.metrics.Violations))
	fmt.Println()

	printOperationReport("Sign in", &s.metrics.SignIn)
	printOperationReport("Select specialization", &s.metrics.Specialization)
	printOperationReport("Navigate", &s.metrics.Navigate)
	printOperationReport("Back", &s.metrics.Back)
	printOperationReport("Profile", &s.metrics.Profile)
	printOperationReport("Logout", &s.metrics.Logout)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, float64(rejected)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
