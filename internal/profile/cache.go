package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/medai-portal/internal/logger"
)

// CachedStore is a read-through Redis cache in front of another Store.
// Misses are never cached, so a profile written after a failed lookup is
// visible on the next read.
type CachedStore struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	log    *logrus.Entry
}

func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		client: client,
		ttl:    ttl,
		log:    log.WithComponent("profile_cache"),
	}
}

func roleKey(uid uuid.UUID) string {
	return "profile:role:" + uid.String()
}

func profileKey(collection Collection, uid uuid.UUID) string {
	return fmt.Sprintf("profile:%s:%s", collection, uid)
}

func (c *CachedStore) GetRoleDocument(ctx context.Context, uid uuid.UUID) (*RoleDocument, error) {
	var doc RoleDocument
	if c.get(ctx, roleKey(uid), &doc) {
		return &doc, nil
	}

	found, err := c.next.GetRoleDocument(ctx, uid)
	if err != nil {
		return nil, err
	}
	c.set(ctx, roleKey(uid), found)
	return found, nil
}

func (c *CachedStore) GetProfileDocument(ctx context.Context, collection Collection, uid uuid.UUID) (Profile, error) {
	key := profileKey(collection, uid)

	var target Profile
	switch collection {
	case CollectionDoctors:
		target = &DoctorProfile{}
	case CollectionPatients:
		target = &PatientProfile{}
	default:
		return c.next.GetProfileDocument(ctx, collection, uid)
	}
	if c.get(ctx, key, target) {
		return target, nil
	}

	found, err := c.next.GetProfileDocument(ctx, collection, uid)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, found)
	return found, nil
}

func (c *CachedStore) CreateProfile(ctx context.Context, doc RoleDocument, p Profile) error {
	if err := c.next.CreateProfile(ctx, doc, p); err != nil {
		return err
	}
	c.invalidate(ctx, doc.UID)
	return nil
}

func (c *CachedStore) AppendRecord(ctx context.Context, patientUID uuid.UUID, rec Record) (*Record, error) {
	stored, err := c.next.AppendRecord(ctx, patientUID, rec)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, patientUID)
	return stored, nil
}

// ListPatientsByDepartment is not cached; a department listing changes with
// every registration and record.
func (c *CachedStore) ListPatientsByDepartment(ctx context.Context, d Department) ([]*PatientProfile, error) {
	return c.next.ListPatientsByDepartment(ctx, d)
}

func (c *CachedStore) RegisterPatient(ctx context.Context, p *PatientProfile) error {
	if err := c.next.RegisterPatient(ctx, p); err != nil {
		return err
	}
	c.invalidate(ctx, p.UID)
	return nil
}

// get reports a cache hit. Redis failures degrade to a miss.
func (c *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("profile cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("dropping undecodable cache entry")
		_ = c.client.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.WithError(err).WithField("key", key).Warn("profile cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("profile cache write failed")
	}
}

func (c *CachedStore) invalidate(ctx context.Context, uid uuid.UUID) {
	keys := []string{
		roleKey(uid),
		profileKey(CollectionDoctors, uid),
		profileKey(CollectionPatients, uid),
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.WithError(err).WithField("uid", uid).Warn("profile cache invalidation failed")
	}
}
