package placeholders

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
)

const (
	secretMarker     = "***Secret value for %s***"
	authorizationKey = "Authorization"
	basicPrefix      = "Basic "

	generatedSecretLength = 10
	generatedAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// shared so compiled expressions are reused across runs
var evaluator = expressions.NewEvaluator()

// Namespace is the merged key/value map placeholders resolve against.
//
// Values added with Add or Set are treated as secrets and are redacted by Sanitize.
// Personalization fields (names, email) and redirect_url are substituted but never redacted.
type Namespace struct {
	template *expressions.Template
	values   map[string]any
	public   map[string]any
	derived  map[string]string // literal -> key it was derived from
	hasUser  bool
}

// New returns an empty namespace.
func New() *Namespace {
	return &Namespace{
		template: expressions.NewTemplate(evaluator),
		values:   map[string]any{},
		public:   map[string]any{},
		derived:  map[string]string{},
	}
}

// ForRun builds the namespace for one run of integration, optionally on behalf of user.
// Later sources win: user fields, integration extra args, generated secrets.
func ForRun(integration *models.Integration, user *models.User, baseURL string) (*Namespace, error) {
	ns := New()
	ns.public["redirect_url"] = RedirectURL(baseURL, integration.ID)

	if user != nil {
		ns.hasUser = true
		for k, v := range user.Personalization() {
			ns.public[k] = v
		}
		ns.Add(user.Fields())
	}

	ns.Add(integration.Args())

	for _, field := range integration.Manifest.Data.InitialDataForm {
		if !field.Generated() {
			continue
		}
		secret, err := GenerateSecret(generatedSecretLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate value for %s: %w", field.ID, err)
		}
		ns.Set(field.ID, secret)
	}

	return ns, nil
}

// RedirectURL is the OAuth callback an integration's provider redirects to.
func RedirectURL(baseURL string, integrationID uuid.UUID) string {
	return fmt.Sprintf("%s/api/v1/integrations/%s/oauth/callback", strings.TrimRight(baseURL, "/"), integrationID)
}

// GenerateSecret returns a random alphanumeric string of length n.
func GenerateSecret(n int) (string, error) {
	var b strings.Builder
	limit := big.NewInt(int64(len(generatedAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(generatedAlphabet[idx.Int64()])
	}
	return b.String(), nil
}

// Add merges values into the namespace, overriding existing keys.
func (n *Namespace) Add(values map[string]any) {
	for k, v := range values {
		n.values[k] = v
	}
}

func (n *Namespace) Set(key string, value any) {
	n.values[key] = value
}

func (n *Namespace) Get(key string) (any, bool) {
	if v, ok := n.values[key]; ok {
		return v, true
	}
	v, ok := n.public[key]
	return v, ok
}

// HasUser reports whether the namespace was built for a specific user.
func (n *Namespace) HasUser() bool {
	return n.hasUser
}

// Values returns a copy of everything placeholders can resolve to.
func (n *Namespace) Values() map[string]any {
	merged := make(map[string]any, len(n.values)+len(n.public))
	for k, v := range n.public {
		merged[k] = v
	}
	for k, v := range n.values {
		merged[k] = v
	}
	return merged
}

// Replace resolves every {{KEY}} in text. Unknown keys become "".
func (n *Namespace) Replace(text string) string {
	return n.template.Render(text, n.Values())
}

// RegisterSecret marks a literal produced from namespace values, such as an
// encoded Basic credential, so Sanitize redacts it under key's name.
func (n *Namespace) RegisterSecret(key, literal string) {
	if literal == "" {
		return
	}
	n.derived[literal] = key
}

// Sanitize replaces every secret value in text with a marker naming its key.
func (n *Namespace) Sanitize(text string) string {
	pairs := n.replacements()
	if len(pairs) == 0 || text == "" {
		return text
	}
	// one pass, so markers are never rescanned for shorter secrets
	oldnew := make([]string, 0, len(pairs)*2)
	for _, r := range pairs {
		oldnew = append(oldnew, r.literal, fmt.Sprintf(secretMarker, r.key))
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}

// SanitizeJSON redacts value and encodes it without HTML escaping. Redacting before
// encoding means no escaped form of a secret (\u0026, \") can reach the output.
func (n *Namespace) SanitizeJSON(value any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(n.SanitizeValue(value)); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// SanitizeValue returns a copy of a decoded JSON value with every string sanitized.
// Scalars whose text equals a secret are replaced by the marker.
func (n *Namespace) SanitizeValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return n.Sanitize(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			out[n.Sanitize(key)] = n.SanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = n.SanitizeValue(inner)
		}
		return out
	case bool:
		return v
	default:
		text := expressions.Stringify(v)
		if clean := n.Sanitize(text); clean != text {
			return clean
		}
		return v
	}
}

type replacement struct {
	literal string
	key     string
}

func (n *Namespace) replacements() []replacement {
	seen := map[string]string{}
	add := func(literal, key string) {
		if literal == "" {
			return
		}
		if existing, ok := seen[literal]; !ok || key < existing {
			seen[literal] = key
		}
	}

	for key, value := range n.values {
		switch v := value.(type) {
		case map[string]any:
			for innerKey, inner := range v {
				if nested, ok := inner.(map[string]any); ok {
					for deepKey, deep := range nested {
						add(secretString(deep), key+"."+innerKey+"."+deepKey)
					}
					continue
				}
				add(secretString(inner), key+"."+innerKey)
			}
		default:
			literal := secretString(v)
			add(literal, key)
			if key == authorizationKey && strings.HasPrefix(literal, basicPrefix) {
				for _, form := range basicForms(strings.TrimPrefix(literal, basicPrefix)) {
					add(form, key)
				}
			}
		}
	}

	for literal, key := range n.derived {
		add(literal, key)
	}

	out := make([]replacement, 0, len(seen))
	for literal, key := range seen {
		out = append(out, replacement{literal: literal, key: key})
	}
	// longest first so a secret containing another is redacted whole
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].literal) != len(out[j].literal) {
			return len(out[i].literal) > len(out[j].literal)
		}
		return out[i].literal < out[j].literal
	})
	return out
}

// basicForms returns the credential as stored, its base64 encoding and, when it
// is already encoded, its decoded plaintext.
func basicForms(credential string) []string {
	credential = strings.TrimSpace(credential)
	forms := []string{credential, base64.StdEncoding.EncodeToString([]byte(credential))}
	if decoded, err := base64.StdEncoding.DecodeString(credential); err == nil && len(decoded) > 0 {
		forms = append(forms, string(decoded))
	}
	return forms
}

func secretString(value any) string {
	switch value.(type) {
	case nil, bool, []any:
		return ""
	}
	return expressions.Stringify(value)
}
