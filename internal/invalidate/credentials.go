// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package invalidate

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultFallbackNamespace is the namespace the default token applies to.
const DefaultFallbackNamespace = "bep"

// Config is the credential portion of the feature_flag config section.
type Config struct {
	// NamespaceTokens is populated from a string map and is not decoded
	// directly, so it carries no mapstructure name.
	NamespaceTokens   map[string]string `mapstructure:"-"`
	NamespaceToken    string            `mapstructure:"namespace_token"`
	FallbackNamespace string            `mapstructure:"fallback_namespace"`
}

// Table maps namespaces to the token used to reach the evaluation service.
// It is built once and never modified afterwards.
type Table struct {
	tokens   map[string]string
	fallback string
	deflt    string
}

// PlaceholderToken is the token value shipped in sample configuration.
func PlaceholderToken(namespace string) string {
	return fmt.Sprintf("your-%s-token-here", namespace)
}

func usable(namespace, token string) bool {
	token = strings.TrimSpace(token)
	return token != "" && token != PlaceholderToken(namespace)
}

// NewTable builds a credential table, discarding blank and placeholder tokens.
func NewTable(cfg Config) *Table {
	t := &Table{
		tokens:   map[string]string{},
		fallback: cfg.FallbackNamespace,
	}
	if t.fallback == "" {
		t.fallback = DefaultFallbackNamespace
	}
	for ns, tok := range cfg.NamespaceTokens {
		ns = strings.TrimSpace(ns)
		if ns == "" || !usable(ns, tok) {
			continue
		}
		t.tokens[ns] = strings.TrimSpace(tok)
	}
	if usable(t.fallback, cfg.NamespaceToken) {
		t.deflt = strings.TrimSpace(cfg.NamespaceToken)
	}
	return t
}

// Token resolves the token for a namespace: the namespace's own entry first,
// then the default token when the namespace is the fallback namespace.
func (t *Table) Token(namespace string) (string, bool) {
	if tok, ok := t.tokens[namespace]; ok {
		return tok, true
	}
	if namespace == t.fallback && t.deflt != "" {
		return t.deflt, true
	}
	return "", false
}

// FallbackNamespace returns the namespace the default token is bound to.
func (t *Table) FallbackNamespace() string {
	return t.fallback
}

// IsSupported reports whether a token resolves for the namespace.
func (t *Table) IsSupported(namespace string) bool {
	_, ok := t.Token(namespace)
	return ok
}

// SupportedNamespaces lists every namespace with a token, sorted.
func (t *Table) SupportedNamespaces() []string {
	out := make([]string, 0, len(t.tokens)+1)
	for ns := range t.tokens {
		out = append(out, ns)
	}
	if _, ok := t.tokens[t.fallback]; !ok && t.deflt != "" {
		out = append(out, t.fallback)
	}
	sort.Strings(out)
	return out
}

func preview(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "..."
}

// LogConfiguration writes a summary of the table without revealing tokens.
func (t *Table) LogConfiguration() {
	namespaces := t.SupportedNamespaces()
	slog.Info("Namespace credentials loaded",
		slog.Int("namespaces", len(namespaces)),
		slog.String("fallback_namespace", t.fallback),
		slog.Bool("default_token", t.deflt != ""))
	for _, ns := range namespaces {
		tok, _ := t.Token(ns)
		slog.Info("Namespace credential",
			slog.String("namespace", ns),
			slog.String("token_preview", preview(tok)))
	}
	if len(namespaces) == 0 {
		slog.Warn("No namespace credentials configured; cache invalidation is disabled")
	}
}
