// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package i18n translates builtin manifest strings through gettext-like
// domains.
//
// Catalog files live at locales/<locale>/<domain>.yaml and hold a flat
// msgid to translation map. Every domain is its own x/text catalog so equal
// msgids in different domains do not collide.
package i18n

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk shape of one locale/domain file.
type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Domain   string            `yaml:"domain"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog holds translations grouped by domain.
type Catalog struct {
	mu      sync.RWMutex
	domains map[string]*catalog.Builder
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{domains: make(map[string]*catalog.Builder)}
}

// Load reads every locales/*/*.yaml file from fsys.
func Load(fsys fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, oops.In("i18n").Wrapf(err, "glob locale catalogs")
	}
	sort.Strings(paths)

	c := New()
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, oops.In("i18n").With("path", p).Wrapf(err, "read catalog")
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, oops.In("i18n").With("path", p).Wrapf(err, "parse catalog")
		}
		locale := path.Base(path.Dir(p))
		domain := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if file.Locale != "" && file.Locale != locale {
			return nil, oops.In("i18n").With("path", p).Errorf("locale %q must match path locale %q", file.Locale, locale)
		}
		if file.Domain != "" && file.Domain != domain {
			return nil, oops.In("i18n").With("path", p).Errorf("domain %q must match file name %q", file.Domain, domain)
		}
		if err := c.Add(locale, domain, file.Messages); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add registers translations of domain for locale.
func (c *Catalog) Add(locale, domain string, messages map[string]string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return oops.In("i18n").With("locale", locale).Wrapf(err, "parse locale")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.domains[domain]
	if !ok {
		b = catalog.NewBuilder()
		c.domains[domain] = b
	}
	for msgid, translation := range messages {
		if strings.TrimSpace(msgid) == "" {
			return oops.In("i18n").With("domain", domain).Errorf("message id cannot be blank")
		}
		if err := b.SetString(tag, msgid, translation); err != nil {
			return oops.In("i18n").With("domain", domain).With("msgid", msgid).Wrapf(err, "add translation")
		}
	}
	return nil
}

// Domains lists the known domains.
func (c *Catalog) Domains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.domains))
	for d := range c.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Gettext returns the translation function of domain for locale. Unknown
// domains and msgids translate to themselves.
func (c *Catalog) Gettext(locale language.Tag, domain string) func(string) string {
	c.mu.RLock()
	b, ok := c.domains[domain]
	c.mu.RUnlock()
	if !ok {
		return identity
	}
	p := message.NewPrinter(locale, message.Catalog(b))
	return func(msgid string) string {
		// msgids are not format strings.
		if strings.ContainsRune(msgid, '%') {
			return msgid
		}
		return p.Sprintf(msgid)
	}
}

func identity(s string) string { return s }
