package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatglass/internal/core"
)

var pronounsBaseURL = "https://api.pronouns.alejo.io/v1"

// PronounResolver resolves a chatter's self-declared pronouns. Per-user
// lookups are cached for 5 minutes; the id-to-display catalog for 10.
type PronounResolver struct {
	HTTP *http.Client

	users   *Cache
	catalog *Cache
}

func NewPronounResolver() *PronounResolver {
	return &PronounResolver{
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		users:   NewCache(5 * time.Minute),
		catalog: NewCache(10 * time.Minute),
	}
}

func (r *PronounResolver) Name() string { return "pronouns" }

func (r *PronounResolver) Resolve(ctx context.Context, msg core.ChatMessage) (Patch, bool) {
	if msg.Platform != core.PlatformTwitch || msg.Username == "" {
		return nil, false
	}
	login := strings.ToLower(msg.Username)
	v, ok := r.users.Do(ctx, login, func(ctx context.Context) (any, bool) {
		display, err := r.fetchUser(ctx, login)
		if err != nil || display == "" {
			return "", false
		}
		return display, true
	})
	if !ok {
		return nil, false
	}
	display := v.(string)
	return func(m *core.ChatMessage) { m.Pronouns = display }, true
}

type pronounUser struct {
	PronounID    string `json:"pronoun_id"`
	AltPronounID string `json:"alt_pronoun_id"`
}

type pronounDef struct {
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	Object   string `json:"object"`
	Singular bool   `json:"singular"`
}

func (r *PronounResolver) fetchUser(ctx context.Context, login string) (string, error) {
	var user pronounUser
	if err := r.getJSON(ctx, pronounsBaseURL+"/users/"+login, &user); err != nil {
		return "", err
	}
	if user.PronounID == "" {
		return "", nil
	}
	defs, err := r.loadCatalog(ctx)
	if err != nil {
		return "", err
	}
	main, ok := defs[user.PronounID]
	if !ok {
		return "", nil
	}
	if alt, ok := defs[user.AltPronounID]; ok {
		return main.Subject + "/" + alt.Subject, nil
	}
	if main.Singular {
		return main.Subject, nil
	}
	return main.Subject + "/" + main.Object, nil
}

func (r *PronounResolver) loadCatalog(ctx context.Context) (map[string]pronounDef, error) {
	v, ok := r.catalog.Do(ctx, "catalog", func(ctx context.Context) (any, bool) {
		var defs map[string]pronounDef
		if err := r.getJSON(ctx, pronounsBaseURL+"/pronouns", &defs); err != nil {
			return nil, false
		}
		return defs, true
	})
	if !ok {
		return nil, errors.New("pronoun catalog unavailable")
	}
	return v.(map[string]pronounDef), nil
}

func (r *PronounResolver) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := r.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errors.New("not found")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
}
