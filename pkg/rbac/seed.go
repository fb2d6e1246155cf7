package rbac

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/observability"
)

//go:embed default_seed.yaml
var defaultSeed []byte

// AllPermissions in a seed role's permission list grants every seeded permission
const AllPermissions = "*"

// Seed describes permissions and roles to create at startup
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
}

// SeedPermission is one permission entry
type SeedPermission struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedRole is one role entry; Permissions lists codes
type SeedRole struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	IsDefault   bool     `yaml:"is_default"`
	IsSystem    bool     `yaml:"is_system"`
	Permissions []string `yaml:"permissions"`
}

// LoadSeed reads a seed file, or the embedded default when path is empty
func LoadSeed(path string) (*Seed, error) {
	data := defaultSeed
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
	}
	return ParseSeed(data)
}

// ParseSeed decodes and checks a seed document
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *Seed) validate() error {
	codes := make(map[string]bool, len(s.Permissions))
	for _, p := range s.Permissions {
		if p.Code == "" || p.Name == "" {
			return errors.New("seed permission needs code and name")
		}
		if codes[p.Code] {
			return fmt.Errorf("seed permission %q declared twice", p.Code)
		}
		codes[p.Code] = true
	}

	names := make(map[string]bool, len(s.Roles))
	defaults := 0
	for _, r := range s.Roles {
		if r.Name == "" {
			return errors.New("seed role needs a name")
		}
		if names[r.Name] {
			return fmt.Errorf("seed role %q declared twice", r.Name)
		}
		names[r.Name] = true
		if r.IsDefault {
			defaults++
		}
		for _, code := range r.Permissions {
			if code != AllPermissions && !codes[code] {
				return fmt.Errorf("seed role %q references undeclared permission %q", r.Name, code)
			}
		}
	}
	if defaults > 1 {
		return errors.New("seed declares more than one default role")
	}
	return nil
}

// ApplySeed creates missing permissions and roles and adds missing
// permissions to existing roles. Nothing is removed or renamed.
func (s *Service) ApplySeed(ctx context.Context, seed *Seed, logger *observability.Logger) error {
	ids := make(map[string]string, len(seed.Permissions))
	all := make([]string, 0, len(seed.Permissions))

	for _, sp := range seed.Permissions {
		p, err := s.store.GetPermissionByCode(ctx, sp.Code)
		if errors.Is(err, ErrNotFound) {
			p = &Permission{Code: sp.Code, Name: sp.Name}
			if sp.Description != "" {
				desc := sp.Description
				p.Description = &desc
			}
			if err := s.store.CreatePermission(ctx, p); err != nil {
				return err
			}
			logger.WithField("code", sp.Code).Info("Seeded permission")
		} else if err != nil {
			return err
		}
		ids[sp.Code] = p.ID
		all = append(all, p.ID)
	}

	for _, sr := range seed.Roles {
		var permIDs []string
		for _, code := range sr.Permissions {
			if code == AllPermissions {
				permIDs = all
				break
			}
			permIDs = append(permIDs, ids[code])
		}

		role, err := s.store.GetRoleByName(ctx, sr.Name)
		if errors.Is(err, ErrNotFound) {
			role = &Role{Name: sr.Name, IsDefault: sr.IsDefault, IsSystem: sr.IsSystem}
			if sr.Description != "" {
				desc := sr.Description
				role.Description = &desc
			}
			if err := s.store.CreateRole(ctx, role, permIDs); err != nil {
				return err
			}
			logger.WithField("role", sr.Name).Info("Seeded role")
			continue
		}
		if err != nil {
			return err
		}

		if err := s.store.AddRolePermissions(ctx, role.ID, permIDs); err != nil {
			return err
		}
	}

	s.checker.InvalidateAll()
	return nil
}
