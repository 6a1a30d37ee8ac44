package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// validPlaceholders are substituted by Render
var validPlaceholders = map[string]bool{
	"{name}":       true,
	"{first_name}": true,
	"{location}":   true,
}

// TemplateService handles message personalization
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render personalizes a campaign message for one recipient. The result is
// the message prefixed with a greeting, "Hi <name>, <message>". Known
// placeholders are substituted; unknown ones are left as-is.
func (s *TemplateService) Render(template string, customer *models.Customer) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}
	if customer == nil {
		return "", fmt.Errorf("customer cannot be nil")
	}

	name := customer.DisplayName()
	first := name
	if i := strings.IndexByte(name, ' '); i > 0 {
		first = name[:i]
	}
	location := ""
	if customer.Location != nil {
		location = *customer.Location
	}

	body := strings.NewReplacer(
		"{name}", name,
		"{first_name}", first,
		"{location}", location,
	).Replace(template)

	return fmt.Sprintf("Hi %s, %s", name, body), nil
}

// ValidateTemplate checks that a template has balanced braces
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("message cannot be empty")
	}

	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")
	if openCount != closeCount {
		return fmt.Errorf("message has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// UnknownPlaceholders lists placeholders Render will leave untouched
func (s *TemplateService) UnknownPlaceholders(template string) []string {
	unknown := []string{}
	for _, p := range placeholderRe.FindAllString(template, -1) {
		if !validPlaceholders[p] {
			unknown = append(unknown, p)
		}
	}
	return unknown
}
