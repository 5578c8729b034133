package reply

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/scarybot/bogamail/internal/models"
	"gopkg.in/yaml.v3"
)

// TemplateRule is one entry of a templates file. The first rule whose Match
// appears in the incoming subject or body (case-insensitive) wins; an empty
// Match matches everything.
type TemplateRule struct {
	Name     string        `yaml:"name"`
	Match    string        `yaml:"match"`
	Suppress bool          `yaml:"suppress"`
	Subject  string        `yaml:"subject"`
	Body     string        `yaml:"body"`
	Delay    time.Duration `yaml:"delay"`
}

type templateFile struct {
	Rules []TemplateRule `yaml:"rules"`
}

type compiledRule struct {
	TemplateRule
	subject *template.Template
	body    *template.Template
}

// TemplateData is what subject and body templates are executed against.
type TemplateData struct {
	Incoming *models.Message
	Thread   []*models.Message
	// Turns is the number of messages in the conversation so far.
	Turns int
}

var templateFuncs = template.FuncMap{
	"reply": Subject,
	"upper": strings.ToUpper,
	"first": func(s string) string {
		first, _, _ := strings.Cut(strings.TrimSpace(s), " ")
		return first
	},
}

// TemplateStrategy answers with canned text chosen by matching rules.
type TemplateStrategy struct {
	rules []compiledRule
}

func LoadTemplates(path string) (*TemplateStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseTemplates(data)
}

func ParseTemplates(data []byte) (*TemplateStrategy, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("templates file has no rules")
	}

	s := &TemplateStrategy{}
	for i, rule := range file.Rules {
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i+1)
		}
		compiled := compiledRule{TemplateRule: rule}
		if !rule.Suppress {
			if rule.Subject == "" {
				rule.Subject = "{{reply .Incoming.Subject}}"
			}
			var err error
			if compiled.subject, err = template.New(rule.Name + "/subject").Funcs(templateFuncs).Parse(rule.Subject); err != nil {
				return nil, fmt.Errorf("failed to parse subject of %s: %w", rule.Name, err)
			}
			if compiled.body, err = template.New(rule.Name + "/body").Funcs(templateFuncs).Parse(rule.Body); err != nil {
				return nil, fmt.Errorf("failed to parse body of %s: %w", rule.Name, err)
			}
		}
		s.rules = append(s.rules, compiled)
	}

	return s, nil
}

func (s *TemplateStrategy) Generate(_ context.Context, thread []*models.Message, incoming *models.Message) (*Reply, error) {
	rule := s.match(incoming)
	if rule == nil || rule.Suppress {
		return nil, nil
	}

	data := TemplateData{Incoming: incoming, Thread: thread, Turns: len(thread)}

	var subject, body bytes.Buffer
	if err := rule.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject of %s: %w", rule.Name, err)
	}
	if err := rule.body.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render body of %s: %w", rule.Name, err)
	}

	return &Reply{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()),
		Delay:   rule.Delay,
	}, nil
}

func (s *TemplateStrategy) match(incoming *models.Message) *compiledRule {
	text := strings.ToLower(incoming.Subject + "\n" + incoming.Body)
	for i := range s.rules {
		match := strings.ToLower(s.rules[i].Match)
		if match == "" || strings.Contains(text, match) {
			return &s.rules[i]
		}
	}
	return nil
}
