package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/medai-portal/internal/db"
	redisclient "github.com/hackgods/medai-portal/internal/redis"
)

type PgStore struct {
	pool   *pgxpool.Pool
	locker redisclient.Locker
}

// NewPgStore returns a Store backed by postgres. locker guards the per-patient
// record ordinal across replicas.
func NewPgStore(pool *pgxpool.Pool, locker redisclient.Locker) *PgStore {
	return &PgStore{pool: pool, locker: locker}
}

// Helpers

func scanRoleDocument(row pgx.Row) (*RoleDocument, error) {
	var d RoleDocument
	var role string

	if err := row.Scan(&d.UID, &d.Email, &d.Name, &role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoleDocumentNotFound
		}
		return nil, err
	}

	r, err := ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("role document %s: %w", d.UID, err)
	}
	d.Role = r
	return &d, nil
}

func scanDoctor(row pgx.Row) (*DoctorProfile, error) {
	var d DoctorProfile
	var email *string
	var availability []byte

	err := row.Scan(
		&d.UID,
		&d.Name,
		&email,
		&d.Specialization,
		&d.ExperienceYears,
		&d.PhotoURL,
		&d.Hospital,
		&availability,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileDocumentNotFound
		}
		return nil, err
	}

	if email != nil {
		d.Email = *email
	}
	d.Availability = map[string][]string{}
	if len(availability) > 0 {
		if err := json.Unmarshal(availability, &d.Availability); err != nil {
			return nil, fmt.Errorf("decode availability for %s: %w", d.UID, err)
		}
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	var email, insurance, department *string

	err := row.Scan(
		&p.UID,
		&p.Name,
		&p.Age,
		&p.Gender,
		&p.Contact,
		&email,
		&p.MedicalHistory,
		&p.Allergies,
		&insurance,
		&department,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileDocumentNotFound
		}
		return nil, err
	}

	if email != nil {
		p.Email = *email
	}
	if insurance != nil {
		p.Insurance = *insurance
	}
	if department != nil {
		d := Department(*department)
		p.Department = &d
	}
	p.Records = []Record{}
	return &p, nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	var ordinal int
	var body []byte

	if err := row.Scan(&ordinal, &r.Type, &r.Date, &body); err != nil {
		return nil, err
	}

	decoded, err := DecodeBody(r.Type, body)
	if err != nil {
		return nil, err
	}
	r.ID = RecordID(ordinal)
	r.Body = decoded
	return &r, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertPatient(ctx context.Context, q execer, pt *PatientProfile) error {
	var department *string
	if pt.Department != nil {
		department = nullable(string(*pt.Department))
	}
	_, err := q.Exec(ctx, `
		INSERT INTO patients (uid, name, age, gender, contact, email, medical_history, allergies, insurance, department, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
	`, pt.UID, pt.Name, pt.Age, string(pt.Gender), pt.Contact, nullable(pt.Email), pt.MedicalHistory, pt.Allergies, nullable(pt.Insurance), department)
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Interface methods

func (s *PgStore) GetRoleDocument(ctx context.Context, uid uuid.UUID) (*RoleDocument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT uid, email, name, role
		FROM users
		WHERE uid = $1
	`, uid)
	return scanRoleDocument(row)
}

func (s *PgStore) GetProfileDocument(ctx context.Context, collection Collection, uid uuid.UUID) (Profile, error) {
	switch collection {
	case CollectionDoctors:
		row := s.pool.QueryRow(ctx, `
			SELECT uid, name, email, specialization, experience_years, photo_url, hospital, availability
			FROM doctors
			WHERE uid = $1
		`, uid)
		return scanDoctor(row)

	case CollectionPatients:
		row := s.pool.QueryRow(ctx, `
			SELECT uid, name, age, gender, contact, email, medical_history, allergies, insurance, department
			FROM patients
			WHERE uid = $1
		`, uid)
		p, err := scanPatient(row)
		if err != nil {
			return nil, err
		}
		records, err := s.listRecords(ctx, uid)
		if err != nil {
			return nil, err
		}
		p.Records = records
		return p, nil
	}

	return nil, fmt.Errorf("unknown profile collection %q", collection)
}

func (s *PgStore) listRecords(ctx context.Context, patientUID uuid.UUID) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ordinal, record_type, recorded_at, body
		FROM patient_records
		WHERE patient_uid = $1
		ORDER BY ordinal
	`, patientUID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	result := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateProfile writes the role document and the role-specific profile in one
// transaction so a reader never sees one without the other.
func (s *PgStore) CreateProfile(ctx context.Context, doc RoleDocument, p Profile) error {
	if RoleOf(p) != doc.Role {
		return fmt.Errorf("profile role %q does not match role document %q", RoleOf(p), doc.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO users (uid, email, name, role, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, doc.UID, doc.Email, doc.Name, string(doc.Role))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("insert role document: %w", err)
	}

	err = Match(p,
		func(d *DoctorProfile) error {
			availability, err := json.Marshal(d.Availability)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO doctors (uid, name, email, specialization, experience_years, photo_url, hospital, availability, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
			`, d.UID, d.Name, nullable(d.Email), string(d.Specialization), d.ExperienceYears, d.PhotoURL, d.Hospital, availability)
			return err
		},
		func(pt *PatientProfile) error { return insertPatient(ctx, tx, pt) },
		func() error { return errors.New("nil profile") },
	)
	if err != nil {
		return fmt.Errorf("insert profile document: %w", err)
	}

	return tx.Commit(ctx)
}

// AppendRecord stores rec as the patient's next record and returns it with
// its assigned id.
func (s *PgStore) AppendRecord(ctx context.Context, patientUID uuid.UUID, rec Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(rec.Body)
	if err != nil {
		return nil, fmt.Errorf("encode record body: %w", err)
	}

	var stored *Record
	err = s.locker.WithLock(ctx, redisclient.LockKey("patient", patientUID), func(lockCtx context.Context) error {
		var exists bool
		if err := s.pool.QueryRow(lockCtx, `SELECT EXISTS (SELECT 1 FROM patients WHERE uid = $1)`, patientUID).Scan(&exists); err != nil {
			return fmt.Errorf("check patient: %w", err)
		}
		if !exists {
			return ErrProfileDocumentNotFound
		}

		row := s.pool.QueryRow(lockCtx, `
			INSERT INTO patient_records (patient_uid, ordinal, record_type, recorded_at, body, created_at)
			SELECT $1, COALESCE(MAX(ordinal), 0) + 1, $2, $3, $4, now()
			FROM patient_records
			WHERE patient_uid = $1
			RETURNING ordinal, record_type, recorded_at, body
		`, patientUID, string(rec.Type), rec.Date, body)

		r, err := scanRecord(row)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		stored = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return stored, nil
}

func (s *PgStore) ListPatientsByDepartment(ctx context.Context, d Department) ([]*PatientProfile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid, name, age, gender, contact, email, medical_history, allergies, insurance, department
		FROM patients
		WHERE department = $1
		ORDER BY name, uid
	`, string(d))
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	patients := []*PatientProfile{}
	byUID := make(map[uuid.UUID]*PatientProfile)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
		byUID[p.UID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(patients) == 0 {
		return patients, nil
	}

	uids := make([]uuid.UUID, 0, len(patients))
	for _, p := range patients {
		uids = append(uids, p.UID)
	}

	recRows, err := s.pool.Query(ctx, `
		SELECT patient_uid, ordinal, record_type, recorded_at, body
		FROM patient_records
		WHERE patient_uid = ANY($1)
		ORDER BY patient_uid, ordinal
	`, uids)
	if err != nil {
		return nil, fmt.Errorf("list department records: %w", err)
	}
	defer recRows.Close()

	for recRows.Next() {
		var (
			owner   uuid.UUID
			ordinal int
			r       Record
			body    []byte
		)
		if err := recRows.Scan(&owner, &ordinal, &r.Type, &r.Date, &body); err != nil {
			return nil, err
		}
		decoded, err := DecodeBody(r.Type, body)
		if err != nil {
			return nil, err
		}
		r.ID = RecordID(ordinal)
		r.Body = decoded
		if p, ok := byUID[owner]; ok {
			p.Records = append(p.Records, r)
		}
	}
	if err := recRows.Err(); err != nil {
		return nil, err
	}
	return patients, nil
}

func (s *PgStore) RegisterPatient(ctx context.Context, p *PatientProfile) error {
	if p.UID == uuid.Nil {
		p.UID = uuid.New()
	}
	if p.Records == nil {
		p.Records = []Record{}
	}
	if err := insertPatient(ctx, s.pool, p); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrProfileExists
		}
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}
