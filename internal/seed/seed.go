// Package seed loads fixture users, sites and equipment from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"labflow/internal/domain"
	"labflow/internal/engine"
	"labflow/internal/engine/auth"
	"labflow/internal/repo"
)

type File struct {
	Users []struct {
		Name     string `yaml:"name"`
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Role     string `yaml:"role"`
	} `yaml:"users"`
	Sites []struct {
		Code           string `yaml:"code"`
		Name           string `yaml:"name"`
		Location       string `yaml:"location"`
		Client         string `yaml:"client"`
		ContractNumber string `yaml:"contract_number"`
		Director       string `yaml:"director"`
		Status         string `yaml:"status"`
	} `yaml:"sites"`
	Equipment []struct {
		AssetCode string `yaml:"asset_code"`
		Name      string `yaml:"name"`
		Category  string `yaml:"category"`
		Brand     string `yaml:"brand"`
		Model     string `yaml:"model"`
		Location  string `yaml:"location"`
		Site      string `yaml:"site"`
	} `yaml:"equipment"`
}

// Summary counts what Apply created and what it found already present.
type Summary struct {
	Users     int `json:"users"`
	Sites     int `json:"sites"`
	Equipment int `json:"equipment"`
	Skipped   int `json:"skipped"`
}

func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate checks references between sections.
func (f *File) Validate() error {
	emails := map[string]bool{}
	for i, u := range f.Users {
		if u.Email == "" {
			return fmt.Errorf("users[%d].email is required", i)
		}
		if _, ok := auth.ParseRole(u.Role); !ok {
			return fmt.Errorf("users[%d].role %q is not a role", i, u.Role)
		}
		emails[u.Email] = true
	}
	sites := map[string]bool{}
	for i, s := range f.Sites {
		if s.Code == "" {
			return fmt.Errorf("sites[%d].code is required", i)
		}
		if s.Director == "" {
			return fmt.Errorf("sites[%d].director is required", i)
		}
		if s.Status != "" && !domain.OneOf(s.Status, []string{domain.SitePlanned, domain.SiteInProgress}) {
			return fmt.Errorf("sites[%d].status must be planned or in_progress", i)
		}
		sites[s.Code] = true
	}
	for i, e := range f.Equipment {
		if e.AssetCode == "" {
			return fmt.Errorf("equipment[%d].asset_code is required", i)
		}
		if e.Site != "" && !sites[e.Site] {
			return fmt.Errorf("equipment[%d].site %q is not a seeded site code", i, e.Site)
		}
	}
	return nil
}

// Apply creates the fixtures through the engine as actor. Running it twice is harmless.
func (f *File) Apply(ctx context.Context, e engine.Engine, actor auth.Identity) (Summary, error) {
	var sum Summary
	for _, u := range f.Users {
		_, err := e.CreateUser(ctx, actor, engine.CreateUserInput{Name: u.Name, Email: u.Email, Password: u.Password, Role: u.Role})
		if errors.Is(err, repo.ErrDuplicate) {
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		sum.Users++
	}

	existing, err := e.ListSites(ctx, actor, repo.SiteFilters{})
	if err != nil {
		return sum, err
	}
	siteIDs := map[string]string{}
	for _, s := range existing {
		if s.Code != nil {
			siteIDs[*s.Code] = s.ID
		}
	}
	for _, s := range f.Sites {
		if _, ok := siteIDs[s.Code]; ok {
			sum.Skipped++
			continue
		}
		director, err := e.Repo.GetUserByEmail(ctx, nil, s.Director)
		if err != nil {
			return sum, fmt.Errorf("seed site %s director %s: %w", s.Code, s.Director, err)
		}
		created, err := e.CreateSite(ctx, actor, engine.CreateSiteInput{
			Code:           s.Code,
			Name:           s.Name,
			Location:       s.Location,
			Client:         s.Client,
			ContractNumber: s.ContractNumber,
			DirectorID:     director.ID,
		})
		if err != nil {
			return sum, fmt.Errorf("seed site %s: %w", s.Code, err)
		}
		if s.Status == domain.SiteInProgress {
			if _, err := e.SetSiteStatus(ctx, actor, created.ID, domain.SiteInProgress); err != nil {
				return sum, fmt.Errorf("seed site %s status: %w", s.Code, err)
			}
		}
		siteIDs[s.Code] = created.ID
		sum.Sites++
	}

	for _, eq := range f.Equipment {
		created, err := e.CreateEquipment(ctx, actor, engine.CreateEquipmentInput{
			AssetCode: eq.AssetCode,
			Name:      eq.Name,
			Category:  eq.Category,
			Brand:     eq.Brand,
			Model:     eq.Model,
			Location:  eq.Location,
		})
		if errors.Is(err, repo.ErrDuplicate) {
			sum.Skipped++
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("seed equipment %s: %w", eq.AssetCode, err)
		}
		if eq.Site != "" {
			if _, err := e.AssignEquipment(ctx, actor, created.ID, siteIDs[eq.Site], "seed"); err != nil {
				return sum, fmt.Errorf("seed equipment %s assignment: %w", eq.AssetCode, err)
			}
		}
		sum.Equipment++
	}
	return sum, nil
}
