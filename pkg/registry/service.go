package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/phuslu/log"
)

// reservedAliases are first path segments the router owns; sources may
// not shadow them.
var reservedAliases = map[string]bool{
	"health":  true,
	"metrics": true,
	"reload":  true,
	"sources": true,
	"api":     true,
}

// Service wraps a Store with the registration rules: aliases must be
// routable path segments and registered URLs must be https.
type Service struct {
	store Store
	log   *log.Logger
}

func NewService(store Store, logger *log.Logger) *Service {
	return &Service{store: store, log: logger}
}

// ResolveAlias returns the document URL behind name. Inactive and
// unknown aliases both miss.
func (s *Service) ResolveAlias(name string) (string, bool) {
	src, err := s.store.Get(name)
	if err != nil || !src.Active {
		return "", false
	}
	return src.URL, true
}

// Register creates an active source.
func (s *Service) Register(name, rawURL, description string) (*Source, error) {
	if !validAlias(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAlias, name)
	}
	if !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%w: %s", ErrInsecureSource, rawURL)
	}
	src, err := s.store.Create(&Source{Name: name, URL: rawURL, Description: description, Active: true})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("source", src.Name).Str("url", src.URL).Msg("source registered")
	return src, nil
}

// Sources lists registered sources.
func (s *Service) Sources(activeOnly bool) ([]*Source, error) {
	return s.store.List(activeOnly)
}

// Remove deletes a source by alias.
func (s *Service) Remove(name string) error {
	if err := s.store.Delete(name); err != nil {
		return err
	}
	s.log.Info().Str("source", name).Msg("source removed")
	return nil
}

// SetActive flips the serving flag without touching the URL.
func (s *Service) SetActive(name string, active bool) error {
	return s.store.SetActive(name, active)
}

// DescribeDocument parses and validates an OpenAPI document with
// kin-openapi and returns its title and version. Import and inspect
// flows use it to annotate sources before they go live.
func (s *Service) DescribeDocument(data []byte) (string, string, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return "", "", fmt.Errorf("document does not parse: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return "", "", fmt.Errorf("document does not validate: %v", err)
	}
	if doc.Info == nil {
		return "", "", fmt.Errorf("document has no info block")
	}
	return doc.Info.Title, doc.Info.Version, nil
}

// validAlias accepts names that survive as a single URL path segment:
// lowercase alphanumerics, hyphen, underscore, and none of the admin
// routes.
func validAlias(name string) bool {
	if name == "" || reservedAliases[name] {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
