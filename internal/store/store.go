// Package store persists check results. Adapters are chosen by DSN scheme.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// Status is the liveness flag kept per proxy
type Status string

const (
	StatusUnknown Status = ""
	StatusAlive   Status = "alive"
	StatusDead    Status = "dead"
)

// StatusFor maps a check result onto a liveness flag
func StatusFor(result proxy.CheckerResult) Status {
	if result.IsWorking {
		return StatusAlive
	}
	return StatusDead
}

// Record is the persisted view of one proxy
type Record struct {
	Address     string    `gorm:"primaryKey;size:64" json:"address"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"-"`
	Private     bool      `gorm:"index" json:"private"`
	Working     bool      `gorm:"index" json:"working"`
	SSL         bool      `json:"ssl"`
	Protocols   []string  `gorm:"serializer:json" json:"protocols"`
	Anonymity   string    `json:"anonymity,omitempty"`
	Status      Status    `gorm:"size:16;index" json:"status"`
	LastChecked time.Time `json:"last_checked"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

// TableName pins the table name independent of the struct name
func (Record) TableName() string {
	return "proxies"
}

// Update is a set of optional fields to write. Nil fields are left as they
// are; a zero CheckedAt leaves LastChecked unchanged.
type Update struct {
	Username  *string
	Password  *string
	Working   *bool
	SSL       *bool
	Protocols []string
	Anonymity *proxy.AnonymityGrade
	CheckedAt time.Time
}

// UpdateFromReport builds the update that records a finished check
func UpdateFromReport(report *proxy.Report) Update {
	working := report.Result.IsWorking
	ssl := report.Result.IsSSL
	anonymity := report.Anonymity
	protocols := append([]string{}, report.Result.WorkingProtocols...)
	return Update{
		Working:   &working,
		SSL:       &ssl,
		Protocols: protocols,
		Anonymity: &anonymity,
		CheckedAt: report.CheckedAt,
	}
}

// WithCredentials returns a copy of u that also stores p's credentials
func (u Update) WithCredentials(p proxy.Proxy) Update {
	if !p.HasAuth() {
		return u
	}
	username, password := p.Username, p.Password
	u.Username = &username
	u.Password = &password
	return u
}

func (u Update) apply(r *Record) {
	if u.Username != nil {
		r.Username = *u.Username
	}
	if u.Password != nil {
		r.Password = *u.Password
	}
	r.Private = r.Username != "" || r.Password != ""
	if u.Working != nil {
		r.Working = *u.Working
	}
	if u.SSL != nil {
		r.SSL = *u.SSL
	}
	if u.Protocols != nil {
		r.Protocols = append([]string{}, u.Protocols...)
	}
	if u.Anonymity != nil {
		r.Anonymity = string(*u.Anonymity)
	}
	if !u.CheckedAt.IsZero() {
		r.LastChecked = u.CheckedAt.UTC()
	}
}

// Store is the persistence port used by the batch runner and the server.
// Select returns (nil, nil) for an unknown address.
type Store interface {
	Select(ctx context.Context, address string) (*Record, error)
	UpdateData(ctx context.Context, address string, update Update) error
	UpdateStatus(ctx context.Context, address string, status Status) error
	Close() error
}

// Open returns the adapter for dsn. Supported schemes are sqlite://path,
// postgres:// (or postgresql://) and redis:// (or rediss://).
func Open(dsn string) (Store, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return nil, errors.NewStoreError(errors.ErrorStoreUnsupportedDSN, "store DSN has no scheme", "", nil)
	}

	switch strings.ToLower(scheme) {
	case "sqlite":
		s, err := OpenSQLite(rest)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis", "rediss":
		s, err := OpenRedis(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.NewStoreError(errors.ErrorStoreUnsupportedDSN, "unsupported store scheme", "", nil).
			WithDetail("scheme", scheme)
	}
}
