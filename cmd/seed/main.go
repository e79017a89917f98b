package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/medai-portal/internal/auth"
	"github.com/hackgods/medai-portal/internal/db"
	"github.com/hackgods/medai-portal/internal/logger"
	"github.com/hackgods/medai-portal/internal/profile"
	redisclient "github.com/hackgods/medai-portal/internal/redis"
)

const (
	doctorEmailFormat  = "doctor%03d@medai.test"
	patientEmailFormat = "patient%04d@medai.test"
)

var (
	weekdays  = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}
	histories = []string{"None", "Hypertension", "Type 2 diabetes", "Asthma", "Migraine", "Seasonal allergies"}
)

type seeder struct {
	accounts *auth.Service
	profiles *profile.PgStore
	password string
	log      *logger.Logger
}

func main() {
	_ = godotenv.Load()
	log := logger.New("info")
	log.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, db.PoolOptions{})
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pool.Close()

	if err := db.RunMigrations(dsn); err != nil {
		log.WithError(err).Fatal("run migrations")
	}

	gofakeit.Seed(0)

	s := &seeder{
		accounts: auth.NewService(auth.NewPgAccountRepository(pool)),
		// seeding runs alone, so record appends need no distributed lock
		profiles: profile.NewPgStore(pool, redisclient.LocalLocker{}),
		password: getEnv("SEED_PASSWORD", "password123"),
		log:      log,
	}

	if err := s.seedDoctors(context.Background(), getInt("SEED_DOCTORS", 50)); err != nil {
		log.WithError(err).Fatal("seed doctors")
	}
	if err := s.seedPatients(context.Background(), getInt("SEED_PATIENTS", 500)); err != nil {
		log.WithError(err).Fatal("seed patients")
	}

	log.Info("seed complete")
}

// register creates the account and returns false when it already exists, so
// the seed can be rerun.
func (s *seeder) register(ctx context.Context, email string) (*auth.Identity, bool, error) {
	id, err := s.accounts.Register(ctx, email, s.password)
	if errors.Is(err, auth.ErrEmailInUse) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}

func (s *seeder) seedDoctors(ctx context.Context, count int) error {
	s.log.WithField("count", count).Info("seeding doctors")

	created := 0
	for i := 1; i <= count; i++ {
		email := fmt.Sprintf(doctorEmailFormat, i)
		id, ok, err := s.register(ctx, email)
		if err != nil {
			return fmt.Errorf("register %s: %w", email, err)
		}
		if !ok {
			continue
		}

		name := "Dr. " + gofakeit.Name()
		doc := profile.RoleDocument{UID: id.ID, Email: email, Name: name, Role: profile.RoleDoctor}

		availability := make(map[string][]string)
		for _, day := range weekdays {
			if gofakeit.Bool() {
				availability[day] = []string{"09:00", "11:00", "14:00"}
			}
		}

		p := &profile.DoctorProfile{
			UID:             id.ID,
			Name:            name,
			Email:           email,
			Specialization:  profile.Departments[gofakeit.Number(0, len(profile.Departments)-1)],
			ExperienceYears: gofakeit.Number(1, 35),
			PhotoURL:        "https://i.pravatar.cc/150?u=" + email,
			Hospital:        gofakeit.Company() + " Hospital",
			Availability:    availability,
		}

		if err := s.profiles.CreateProfile(ctx, doc, p); err != nil {
			_ = s.accounts.Unregister(ctx, id.ID)
			return fmt.Errorf("create doctor profile %s: %w", email, err)
		}
		created++
	}

	s.log.WithFields(logrus.Fields{"created": created, "requested": count}).Info("doctors seeded")
	return nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	s.log.WithField("count", count).Info("seeding patients")

	genders := []profile.Gender{profile.GenderMale, profile.GenderFemale, profile.GenderOther}

	created := 0
	for i := 1; i <= count; i++ {
		email := fmt.Sprintf(patientEmailFormat, i)
		id, ok, err := s.register(ctx, email)
		if err != nil {
			return fmt.Errorf("register %s: %w", email, err)
		}
		if !ok {
			continue
		}

		name := gofakeit.Name()
		doc := profile.RoleDocument{UID: id.ID, Email: email, Name: name, Role: profile.RolePatient}
		p := &profile.PatientProfile{
			UID:            id.ID,
			Name:           name,
			Age:            gofakeit.Number(1, 95),
			Gender:         genders[gofakeit.Number(0, len(genders)-1)],
			Contact:        gofakeit.Phone(),
			Email:          email,
			MedicalHistory: gofakeit.RandomString(histories),
			Allergies:      gofakeit.RandomString([]string{"None", "Penicillin", "Peanuts", "Latex", "Pollen"}),
			Insurance:      gofakeit.Company(),
			Records:        []profile.Record{},
		}
		if gofakeit.Bool() {
			dept := profile.Departments[gofakeit.Number(0, len(profile.Departments)-1)]
			p.Department = &dept
		}

		if err := s.profiles.CreateProfile(ctx, doc, p); err != nil {
			_ = s.accounts.Unregister(ctx, id.ID)
			return fmt.Errorf("create patient profile %s: %w", email, err)
		}

		if _, err := s.profiles.AppendRecord(ctx, id.ID, fakeLabReport()); err != nil {
			return fmt.Errorf("append record for %s: %w", email, err)
		}
		created++

		if created%100 == 0 {
			s.log.WithField("created", created).Info("patients seeded so far")
		}
	}

	s.log.WithFields(logrus.Fields{"created": created, "requested": count}).Info("patients seeded")
	return nil
}

func fakeLabReport() profile.Record {
	hb := gofakeit.Float64Range(10.5, 17.5)
	return profile.Record{
		Date: gofakeit.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()).UTC(),
		Type: profile.RecordLabReport,
		Body: &profile.Report{
			FileName: fmt.Sprintf("cbc-%s.pdf", gofakeit.LetterN(6)),
			FileType: "application/pdf",
			Analysis: profile.ReportAnalysis{
				Summary:         "Complete blood count",
				KeyFindings:     []string{fmt.Sprintf("Hemoglobin %.1f g/dL", hb)},
				Recommendations: gofakeit.RandomString([]string{"No action needed.", "Repeat in 3 months.", "Discuss with your physician."}),
				ExtractedValues: []profile.ExtractedValue{
					{Label: "Hemoglobin", Value: hb, Unit: "g/dL", Range: [2]float64{12, 16}},
				},
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
