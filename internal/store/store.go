// Package store keeps the petition signatories and the ban list in a
// bstore database. A Store is opened once at startup and closed at
// shutdown; every mutation is committed before it returns.
//
// The admin pages list, edit, delete and ban. Add and IsBanned are the
// entry points for the signing flow, which records confirmed signatures
// and must refuse banned addresses.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mjl-/bstore"
)

var (
	// ErrNotFound is returned for an unknown signatory ID.
	ErrNotFound = errors.New("signatory not found")

	// ErrBanned is returned when adding a signature from a banned email.
	ErrBanned = errors.New("email address is banned")

	// ErrNoEmail is returned when banning a signatory without an email.
	ErrNoEmail = errors.New("signatory has no email address")
)

// Signatory is one confirmed signature.
type Signatory struct {
	ID int64

	// Signatory is the organisation or person signing.
	Signatory string
	Link      string
	Name      string
	Email     string    `bstore:"index"`
	Created   time.Time `bstore:"default now"`
}

// Ban records an email address whose signatures are refused.
type Ban struct {
	// Email is stored lower-cased.
	Email   string
	Created time.Time `bstore:"default now"`
}

// Setting is a named value, such as the admin route.
type Setting struct {
	Key   string
	Value string
}

// DBTypes are the types stored in the database.
var DBTypes = []any{Signatory{}, Ban{}, Setting{}}

const adminRouteKey = "admin.route"

// Store wraps the signatory database.
type Store struct {
	db *bstore.DB
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bstore.Open(ctx, path, &bstore.Options{Timeout: 5 * time.Second, Perm: 0o660}, DBTypes...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AdminRoute returns the secret path segment of the admin pages, creating
// a random 32-character hex value on first use. It never changes after.
func (s *Store) AdminRoute(ctx context.Context) (string, error) {
	var route string
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		setting := Setting{Key: adminRouteKey}
		err := tx.Get(&setting)
		if err == nil {
			route = setting.Value
			return nil
		}
		if !errors.Is(err, bstore.ErrAbsent) {
			return err
		}

		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate admin route: %w", err)
		}
		setting.Value = hex.EncodeToString(buf)
		if err := tx.Insert(&setting); err != nil {
			return err
		}
		route = setting.Value
		return nil
	})
	if err != nil {
		return "", err
	}
	return route, nil
}

// Signatories returns all signatories in signing order.
func (s *Store) Signatories(ctx context.Context) ([]Signatory, error) {
	var list []Signatory
	err := s.db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		list, err = bstore.QueryTx[Signatory](tx).SortAsc("ID").List()
		return err
	})
	return list, err
}

// Signatory returns the signatory with id.
func (s *Store) Signatory(ctx context.Context, id int64) (Signatory, error) {
	sig := Signatory{ID: id}
	if err := s.db.Get(ctx, &sig); err != nil {
		if errors.Is(err, bstore.ErrAbsent) {
			return Signatory{}, ErrNotFound
		}
		return Signatory{}, err
	}
	return sig, nil
}

// Add stores a new signatory and sets its ID. Signatures from banned
// emails are refused with ErrBanned.
func (s *Store) Add(ctx context.Context, sig *Signatory) error {
	sig.ID = 0
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		banned, err := isBanned(tx, sig.Email)
		if err != nil {
			return err
		}
		if banned {
			return ErrBanned
		}
		return tx.Insert(sig)
	})
}

// Update replaces the stored fields of an existing signatory. Changing the
// email to a banned address fails with ErrBanned.
func (s *Store) Update(ctx context.Context, sig Signatory) error {
	return s.db.Write(ctx, func(tx *bstore.Tx) error {
		current := Signatory{ID: sig.ID}
		if err := tx.Get(&current); err != nil {
			if errors.Is(err, bstore.ErrAbsent) {
				return ErrNotFound
			}
			return err
		}
		if normalizeEmail(sig.Email) != normalizeEmail(current.Email) {
			banned, err := isBanned(tx, sig.Email)
			if err != nil {
				return err
			}
			if banned {
				return ErrBanned
			}
		}
		sig.Created = current.Created
		return tx.Update(&sig)
	})
}

// Delete removes a signatory and returns what was removed.
func (s *Store) Delete(ctx context.Context, id int64) (Signatory, error) {
	sig := Signatory{ID: id}
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		if err := tx.Get(&sig); err != nil {
			if errors.Is(err, bstore.ErrAbsent) {
				return ErrNotFound
			}
			return err
		}
		return tx.Delete(&sig)
	})
	if err != nil {
		return Signatory{}, err
	}
	return sig, nil
}

// Ban records the email of each signatory in ids and deletes their
// signatures. Either all of ids are banned or none are. It returns the
// banned emails in the order of ids.
func (s *Store) Ban(ctx context.Context, ids []int64) ([]string, error) {
	var emails []string
	err := s.db.Write(ctx, func(tx *bstore.Tx) error {
		for _, id := range ids {
			sig := Signatory{ID: id}
			if err := tx.Get(&sig); err != nil {
				if errors.Is(err, bstore.ErrAbsent) {
					return fmt.Errorf("signatory %d: %w", id, ErrNotFound)
				}
				return err
			}
			ban := Ban{Email: normalizeEmail(sig.Email)}
			if ban.Email == "" {
				return fmt.Errorf("signatory %d: %w", id, ErrNoEmail)
			}
			if err := tx.Insert(&ban); err != nil && !errors.Is(err, bstore.ErrUnique) {
				return err
			}
			if err := tx.Delete(&sig); err != nil {
				return err
			}
			emails = append(emails, sig.Email)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return emails, nil
}

// IsBanned reports whether email is on the ban list. The comparison
// ignores case.
func (s *Store) IsBanned(ctx context.Context, email string) (bool, error) {
	var banned bool
	err := s.db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		banned, err = isBanned(tx, email)
		return err
	})
	return banned, err
}

// Bans returns the ban list ordered by email.
func (s *Store) Bans(ctx context.Context) ([]Ban, error) {
	var list []Ban
	err := s.db.Read(ctx, func(tx *bstore.Tx) error {
		var err error
		list, err = bstore.QueryTx[Ban](tx).SortAsc("Email").List()
		return err
	})
	return list, err
}

func isBanned(tx *bstore.Tx, email string) (bool, error) {
	ban := Ban{Email: normalizeEmail(email)}
	if ban.Email == "" {
		return false, nil
	}
	err := tx.Get(&ban)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bstore.ErrAbsent) {
		return false, nil
	}
	return false, err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
