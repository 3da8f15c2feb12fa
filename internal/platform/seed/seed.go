// Package seed loads catalog data and accounts from a YAML file into the
// database. Applying the same file twice is a no-op apart from refreshed
// catalog attributes.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/labreport/labreport/internal/platform/auth"
	"github.com/labreport/labreport/internal/platform/db"
)

// ---------------------------------------------------------------------------
// File format
// ---------------------------------------------------------------------------

type File struct {
	LabTypes []LabType `yaml:"lab_types"`
	Users    []User    `yaml:"users"`
}

type LabType struct {
	Name       string      `yaml:"name"`
	Indicators []Indicator `yaml:"indicators"`
}

type Indicator struct {
	Name       string `yaml:"name"`
	Unit       string `yaml:"unit"`
	TestMethod string `yaml:"test_method"`
	LimitValue string `yaml:"limit_value"`
	InputType  string `yaml:"input_type"`
}

type User struct {
	Email    string   `yaml:"email"`
	FullName string   `yaml:"full_name"`
	Role     string   `yaml:"role"`
	Password string   `yaml:"password"`
	LabTypes []string `yaml:"lab_types"`
}

var inputTypes = map[string]bool{"numeric": true, "boolean": true, "text": true}

const minPasswordLen = 8

// Load reads and validates a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i := range f.LabTypes {
		for j := range f.LabTypes[i].Indicators {
			if f.LabTypes[i].Indicators[j].InputType == "" {
				f.LabTypes[i].Indicators[j].InputType = "numeric"
			}
		}
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	labs := make(map[string]bool, len(f.LabTypes))
	for _, lt := range f.LabTypes {
		name := strings.TrimSpace(lt.Name)
		if name == "" {
			return fmt.Errorf("lab type name is required")
		}
		if labs[name] {
			return fmt.Errorf("lab type %q listed twice", name)
		}
		labs[name] = true
		for _, ind := range lt.Indicators {
			if strings.TrimSpace(ind.Name) == "" {
				return fmt.Errorf("lab type %q: indicator name is required", name)
			}
			if !inputTypes[ind.InputType] {
				return fmt.Errorf("indicator %q: unknown input type %q", ind.Name, ind.InputType)
			}
		}
	}

	emails := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" {
			return fmt.Errorf("user email is required")
		}
		if emails[email] {
			return fmt.Errorf("user %q listed twice", email)
		}
		emails[email] = true
		if _, err := auth.ParseRole(u.Role); err != nil {
			return fmt.Errorf("user %q: %w", email, err)
		}
		if len(u.Password) < minPasswordLen {
			return fmt.Errorf("user %q: password must be at least %d characters", email, minPasswordLen)
		}
		for _, lt := range u.LabTypes {
			if !labs[lt] {
				return fmt.Errorf("user %q: unknown lab type %q", email, lt)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Apply
// ---------------------------------------------------------------------------

type Result struct {
	LabTypes   int
	Indicators int
	Users      int
}

// Apply upserts the file's contents in one transaction. Existing users keep
// their password.
func Apply(ctx context.Context, pool *pgxpool.Pool, f *File) (*Result, error) {
	res := &Result{}
	err := db.WithTx(ctx, pool, func(ctx context.Context) error {
		conn := db.Conn(ctx, pool)
		labIDs := make(map[string]int64, len(f.LabTypes))

		for _, lt := range f.LabTypes {
			var id int64
			err := conn.QueryRow(ctx, `
				INSERT INTO lab_types (type_name) VALUES ($1)
				ON CONFLICT (type_name) DO UPDATE SET is_active = TRUE
				RETURNING id`, strings.TrimSpace(lt.Name)).Scan(&id)
			if err != nil {
				return fmt.Errorf("upsert lab type %q: %w", lt.Name, err)
			}
			labIDs[lt.Name] = id
			res.LabTypes++

			for _, ind := range lt.Indicators {
				_, err := conn.Exec(ctx, `
					INSERT INTO indicators (lab_type_id, indicator_name, unit, test_method, limit_value, input_type)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (lab_type_id, indicator_name) DO UPDATE SET
						unit = EXCLUDED.unit,
						test_method = EXCLUDED.test_method,
						limit_value = EXCLUDED.limit_value,
						input_type = EXCLUDED.input_type`,
					id, strings.TrimSpace(ind.Name), ind.Unit, ind.TestMethod, ind.LimitValue, ind.InputType)
				if err != nil {
					return fmt.Errorf("upsert indicator %q: %w", ind.Name, err)
				}
				res.Indicators++
			}
		}

		for _, u := range f.Users {
			hash, err := auth.HashPassword(u.Password)
			if err != nil {
				return err
			}
			var id int64
			err = conn.QueryRow(ctx, `
				INSERT INTO users (email, full_name, role, password_hash)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (email) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role
				RETURNING id`,
				strings.ToLower(strings.TrimSpace(u.Email)), u.FullName, u.Role, hash).Scan(&id)
			if err != nil {
				return fmt.Errorf("upsert user %q: %w", u.Email, err)
			}
			for _, lt := range u.LabTypes {
				if _, err := conn.Exec(ctx, `
					INSERT INTO user_lab_types (user_id, lab_type_id) VALUES ($1, $2)
					ON CONFLICT DO NOTHING`, id, labIDs[lt]); err != nil {
					return fmt.Errorf("assign lab type %q to %q: %w", lt, u.Email, err)
				}
			}
			res.Users++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
