package sysmgmt

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/logging"
)

//go:embed seed.yaml
var defaultSeed []byte

const generatedPasswordBytes = 12

type (
	// Seed is the initial data of the management tables.
	Seed struct {
		Modules []ModuleSeed `yaml:"modules"`
		Roles   []RoleSeed   `yaml:"roles"`
		Users   []UserSeed   `yaml:"users"`
	}
	ModuleSeed struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Actions     []string `yaml:"actions"`
	}
	RoleSeed struct {
		Name        string           `yaml:"name"`
		Description string           `yaml:"description"`
		Modules     []RoleModuleSeed `yaml:"modules"`
	}
	RoleModuleSeed struct {
		Module  string   `yaml:"module"`
		Actions []string `yaml:"actions"`
	}
	UserSeed struct {
		Username string `yaml:"username"`
		Name     string `yaml:"name"`
		Email    string `yaml:"email"`
		Password string `yaml:"password"` // generated and logged when empty
		Role     string `yaml:"role"`
	}
)

// LoadSeed reads a seed file. An empty path loads the built-in seed.
func LoadSeed(path string) (*Seed, error) {
	data := defaultSeed
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		data = raw
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed yaml.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &seed, nil
}

// ApplySeed creates the modules, roles and users of seed that do not
// exist yet. Module descriptions and actions are refreshed on every run;
// existing roles and users are left untouched. It returns the passwords
// generated for new users, keyed by username.
func (s *Store) ApplySeed(ctx context.Context, seed *Seed, bcryptCost int) (map[string]string, error) {
	generated := map[string]string{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range seed.Modules {
			mod := Module{Name: m.Name}
			err := tx.Where(Module{Name: m.Name}).
				Assign(Module{Description: m.Description, Actions: joinActions(m.Actions)}).
				FirstOrCreate(&mod).Error
			if err != nil {
				return fmt.Errorf("seed module %s: %w", m.Name, err)
			}
		}

		roleIDs := map[string]uint{}
		for _, r := range seed.Roles {
			id, err := seedRole(tx, r)
			if err != nil {
				return err
			}
			roleIDs[r.Name] = id
		}

		for _, u := range seed.Users {
			password, created, err := seedUser(tx, u, roleIDs, bcryptCost)
			if err != nil {
				return err
			}
			if created && u.Password == "" {
				generated[u.Username] = password
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for username, password := range generated {
		logging.L().Warn("created user with a generated password, change it after the first login",
			zap.String("username", username),
			zap.String("password", password),
		)
	}
	return generated, nil
}

func seedRole(tx *gorm.DB, r RoleSeed) (uint, error) {
	var role Role
	err := tx.Where("name = ?", r.Name).First(&role).Error
	if err == nil {
		return role.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("seed role %s: %w", r.Name, err)
	}

	role = Role{Name: r.Name, Description: r.Description}
	for _, m := range r.Modules {
		role.Modules = append(role.Modules, RoleModule{Module: m.Module, Actions: joinActions(m.Actions)})
	}
	if err := tx.Create(&role).Error; err != nil {
		return 0, fmt.Errorf("seed role %s: %w", r.Name, err)
	}
	return role.ID, nil
}

func seedUser(tx *gorm.DB, u UserSeed, roleIDs map[string]uint, cost int) (string, bool, error) {
	var count int64
	if err := tx.Model(&User{}).Where("username = ?", u.Username).Count(&count).Error; err != nil {
		return "", false, fmt.Errorf("seed user %s: %w", u.Username, err)
	}
	if count > 0 {
		return "", false, nil
	}

	password := u.Password
	if password == "" {
		secret, err := auth.GenerateSecret(generatedPasswordBytes)
		if err != nil {
			return "", false, err
		}
		password = secret
	}
	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		return "", false, fmt.Errorf("seed user %s: %w", u.Username, err)
	}

	user := User{Username: u.Username, Name: u.Name, Password: hash, Status: UserEnabled}
	if u.Email != "" {
		email := u.Email
		user.Email = &email
	}
	if u.Role != "" {
		id, ok := roleIDs[u.Role]
		if !ok {
			var role Role
			if err := tx.Where("name = ?", u.Role).First(&role).Error; err != nil {
				return "", false, fmt.Errorf("seed user %s: unknown role %s", u.Username, u.Role)
			}
			id = role.ID
		}
		user.RoleID = &id
	}
	if err := tx.Create(&user).Error; err != nil {
		return "", false, fmt.Errorf("seed user %s: %w", u.Username, err)
	}
	return password, true, nil
}
